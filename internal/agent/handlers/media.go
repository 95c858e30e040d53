package handlers

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"k8s.io/utils/clock"

	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/internal/agent/state"
	"github.com/onesibox/onesibox/internal/agent/transport"
	"github.com/onesibox/onesibox/internal/agent/validator"
	"github.com/onesibox/onesibox/pkg/log"
)

var (
	errNotPlaying = errors.New("not playing any media")

	// Pages that embed a video are opened in the local player instead, which
	// avoids consent overlays and plays the file directly.
	jwMediaPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)jw\.org.*#[a-z]{2,3}/mediaitems/`),
		regexp.MustCompile(`(?i)jw\.org.*_VIDEO`),
	}
)

// Media handles playback commands.
type Media struct {
	state     DeviceState
	reporter  PlaybackReporter
	playerURL string
	clock     clock.PassiveClock
	log       log.Logger
}

// NewMedia returns the media module. localBase is the URL the local pages
// are served from.
func NewMedia(st DeviceState, reporter PlaybackReporter, localBase string) *Media {
	return &Media{
		state:     st,
		reporter:  reporter,
		playerURL: strings.TrimRight(localBase, "/") + "/player.html",
		clock:     clock.RealClock{},
		log:       log.WithName("media"),
	}
}

func (m *Media) Name() string { return "media" }

func (m *Media) Routes() map[core.CommandType]core.HandlerFunc {
	return map[core.CommandType]core.HandlerFunc{
		core.TypePlayMedia:   m.play,
		core.TypeStopMedia:   m.stop,
		core.TypePauseMedia:  m.pause,
		core.TypeResumeMedia: m.resume,
	}
}

// PlayerURL returns the local player address for mediaURL.
func (m *Media) PlayerURL(mediaURL string, autoplay bool) string {
	q := url.Values{}
	q.Set("url", mediaURL)
	q.Set("autoplay", "false")
	if autoplay {
		q.Set("autoplay", "true")
	}
	return m.playerURL + "?" + q.Encode()
}

func isJWMediaPage(u string) bool {
	for _, p := range jwMediaPatterns {
		if p.MatchString(u) {
			return true
		}
	}
	return false
}

func (m *Media) play(ctx context.Context, cmd *core.Command, act core.Actuator) (map[string]any, error) {
	mediaURL, _ := cmd.String("url")
	mediaType, _ := cmd.String("media_type")
	autoplay := true
	if v, ok := cmd.Payload["autoplay"].(bool); ok {
		autoplay = v
	}
	startPosition, _ := cmd.Number("start_position")

	if !validator.IsAllowedMediaURL(mediaURL) {
		return nil, core.WithCode(core.ErrCodeURLNotAllowed, errors.New("url not in authorized domain whitelist"))
	}

	m.log.Info("Playing media", "url", mediaURL, "mediaType", mediaType, "autoplay", autoplay)

	if m.state.Snapshot().Status == state.StatusPlaying {
		if _, err := m.stop(ctx, cmd, act); err != nil {
			return nil, err
		}
	}

	if mediaType == "audio" {
		m.log.Info("Audio-only playback: keeping standby screen visible")
	}

	target := mediaURL
	if isJWMediaPage(mediaURL) {
		target = m.PlayerURL(mediaURL, autoplay)
		m.log.Info("Using local player for JW.org video", "originalUrl", mediaURL, "playerUrl", target)
	}

	if err := act.Navigate(ctx, target); err != nil {
		return nil, err
	}
	m.state.SetPlaying(state.Media{URL: mediaURL, MediaType: mediaType})
	m.report(ctx, "started", &state.Media{URL: mediaURL, MediaType: mediaType}, startPosition)

	if !autoplay {
		if err := act.Pause(ctx); err != nil {
			m.log.Warn("Failed to pause after load", "error", err)
		} else {
			m.state.SetPaused(true)
		}
	}
	return nil, nil
}

func (m *Media) stop(ctx context.Context, _ *core.Command, act core.Actuator) (map[string]any, error) {
	snap := m.state.Snapshot()
	if snap.Status != state.StatusPlaying {
		m.log.Info("Not playing, nothing to stop")
		return nil, nil
	}

	m.log.Info("Stopping media playback")
	if err := act.GoToStandby(ctx); err != nil {
		return nil, err
	}
	m.state.StopPlaying()
	m.report(ctx, "stopped", snap.CurrentMedia, 0)
	return nil, nil
}

func (m *Media) pause(ctx context.Context, _ *core.Command, act core.Actuator) (map[string]any, error) {
	snap := m.state.Snapshot()
	if snap.Status != state.StatusPlaying {
		return nil, errNotPlaying
	}
	if snap.CurrentMedia != nil && snap.CurrentMedia.IsPaused {
		m.log.Info("Media already paused")
		return nil, nil
	}

	if err := act.Pause(ctx); err != nil {
		return nil, err
	}
	m.state.SetPaused(true)
	m.report(ctx, "paused", snap.CurrentMedia, 0)
	return nil, nil
}

func (m *Media) resume(ctx context.Context, _ *core.Command, act core.Actuator) (map[string]any, error) {
	snap := m.state.Snapshot()
	if snap.Status != state.StatusPlaying {
		return nil, errNotPlaying
	}
	if snap.CurrentMedia != nil && !snap.CurrentMedia.IsPaused {
		m.log.Info("Media not paused")
		return nil, nil
	}

	if err := act.Resume(ctx); err != nil {
		return nil, err
	}
	m.state.SetPaused(false)
	m.report(ctx, "resumed", snap.CurrentMedia, 0)
	return nil, nil
}

// report is best effort; a lost event never fails the command.
func (m *Media) report(ctx context.Context, event string, media *state.Media, position float64) {
	if m.reporter == nil {
		return
	}
	ev := transport.PlaybackEvent{Event: event, Position: position, Timestamp: m.clock.Now()}
	if media != nil {
		ev.MediaURL = media.URL
		ev.MediaType = media.MediaType
	}
	if err := m.reporter.ReportPlayback(ctx, ev); err != nil {
		m.log.Error(err, "Failed to report playback event", "event", event)
	}
}
