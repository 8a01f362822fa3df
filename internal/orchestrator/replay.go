package orchestrator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/MrWong99/aura/internal/conversation"
	"github.com/MrWong99/aura/internal/observe"
	"github.com/MrWong99/aura/pkg/audio"
)

// Replay plays the full-turn audio of the assistant message with timestamp
// ts from the start. Audio that was never synthesized is generated once,
// attached to the message and persisted; later calls reuse it.
func (o *Orchestrator) Replay(ctx context.Context, ts int64) error {
	if o.TurnState().Active() {
		return ErrBusy
	}
	ctx, span := observe.StartSpan(ctx, "orchestrator.replay")
	defer span.End()

	b64, err := o.ensureAudio(ctx, ts, "replay")
	if err != nil {
		return err
	}
	pcm, err := audio.DecodeBase64(b64)
	if err != nil {
		return fmt.Errorf("orchestrator: replay %d: %w", ts, err)
	}

	o.player.ResetCursor()
	sc, err := o.player.Enqueue(pcm)
	if err != nil {
		return fmt.Errorf("orchestrator: replay %d: %w", ts, err)
	}
	o.metrics.SpeechScheduled.Add(ctx, sc.Duration.Seconds())
	observe.Logger(ctx).Info("orchestrator: replay scheduled", "timestamp", ts, "duration", sc.Duration)
	return nil
}

// Download returns the full-turn audio of the assistant message with
// timestamp ts as a WAV file, synthesizing and attaching it first when
// needed.
func (o *Orchestrator) Download(ctx context.Context, ts int64) (Download, error) {
	ctx, span := observe.StartSpan(ctx, "orchestrator.download")
	defer span.End()

	b64, err := o.ensureAudio(ctx, ts, "download")
	if err != nil {
		return Download{}, err
	}
	pcm, err := audio.DecodeBase64(b64)
	if err != nil {
		return Download{}, fmt.Errorf("orchestrator: download %d: %w", ts, err)
	}
	return Download{
		Filename:    DownloadFilename(ts),
		ContentType: "audio/wav",
		Data:        audio.WrapWAV(pcm),
	}, nil
}

// DownloadFilename names the audio file of the message with timestamp ts.
func DownloadFilename(ts int64) string {
	return "aura_" + strconv.FormatInt(ts, 10) + ".wav"
}

// ensureAudio returns the attached audio of message ts, synthesizing and
// persisting it when missing. Concurrent calls for the same message share
// one synthesis.
func (o *Orchestrator) ensureAudio(ctx context.Context, ts int64, kind string) (string, error) {
	msg, _, err := o.lookupAssistant(ts)
	if err != nil {
		return "", err
	}
	if msg.HasAudio() {
		return msg.AudioBase64, nil
	}

	v, err, _ := o.lazy.Do(strconv.FormatInt(ts, 10), func() (any, error) {
		// Another caller may have attached it while we waited.
		msg, voice, err := o.lookupAssistant(ts)
		if err != nil {
			return "", err
		}
		if msg.HasAudio() {
			return msg.AudioBase64, nil
		}

		b64, err := o.synthesize(ctx, kind, msg.Content, voice)
		if err != nil {
			return "", err
		}
		if _, err := audio.DecodeBase64(b64); err != nil {
			return "", fmt.Errorf("orchestrator: %s %d: %w", kind, ts, err)
		}

		o.mu.Lock()
		err = o.st.AttachAudio(ts, b64)
		o.mu.Unlock()
		if err != nil {
			return "", err
		}
		o.persist(ctx)
		observe.Logger(ctx).Info("orchestrator: audio attached", "timestamp", ts, "kind", kind)
		return b64, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (o *Orchestrator) lookupAssistant(ts int64) (conversation.Message, Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	msg, ok := o.st.FindMessage(ts)
	if !ok {
		return conversation.Message{}, Voice{}, fmt.Errorf("%w: timestamp %d", conversation.ErrMessageNotFound, ts)
	}
	if msg.Role != conversation.RoleAssistant {
		return conversation.Message{}, Voice{}, fmt.Errorf("%w: timestamp %d", conversation.ErrNotAssistant, ts)
	}
	return msg, o.settings.Voice, nil
}
