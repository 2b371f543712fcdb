package sessions

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"dilag/internal/logging"
	"dilag/internal/opencode"
	"dilag/internal/types"
)

const htmlMime = "text/html"

// Attachment is a file sent alongside a prompt. URL is a data: URL or a
// file: URL the runtime can read.
type Attachment struct {
	Filename string
	Mime     string
	URL      string
}

// SendMessage dispatches content to the current session. The session is
// marked running before the request goes out; the request itself runs in
// the background and only its transport failure is reported here.
func (o *Orchestrator) SendMessage(ctx context.Context, content string, files []Attachment) bool {
	ctx = beginOp(ctx)
	meta, ok := o.currentMeta(ctx)
	if !ok {
		return false
	}
	if strings.TrimSpace(content) == "" && len(files) == 0 {
		return false
	}
	o.realtime.SetSendPhase(meta.ID, types.SendSending)
	req := o.buildPrompt(meta, content, files)

	dispatchCtx, cancel := context.WithCancel(o.ctx)
	o.mu.Lock()
	if prev, ok := o.dispatches[meta.ID]; ok {
		prev()
	}
	o.dispatches[meta.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.finishDispatch(dispatchCtx, meta.ID)
		err := o.sdk.PromptAsync(dispatchCtx, meta.ID, meta.Cwd, req)
		if dispatchCtx.Err() != nil {
			return
		}
		if err != nil {
			o.realtime.SetSendPhase(meta.ID, types.SendFailed)
			o.realtime.SetSessionError(meta.ID, err.Error())
			o.setError(ctx, "send message", err, logging.F("session_id", meta.ID))
			return
		}
		o.realtime.SetSendPhase(meta.ID, types.SendConfirmed)
	}()
	return true
}

func (o *Orchestrator) finishDispatch(ctx context.Context, sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, ok := o.dispatches[sessionID]; ok && ctx.Err() == nil {
		cancel()
		delete(o.dispatches, sessionID)
	}
}

func (o *Orchestrator) cancelDispatch(sessionID string) {
	o.mu.Lock()
	cancel, ok := o.dispatches[sessionID]
	delete(o.dispatches, sessionID)
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// WaitSent blocks until the send phase of sessionID leaves sending and
// returns the phase it settled on.
func (o *Orchestrator) WaitSent(ctx context.Context, sessionID string) types.SendPhase {
	changed := make(chan struct{}, 1)
	unsubscribe := o.realtime.Subscribe(sessionID, func(string) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()
	for {
		phase := o.realtime.SendPhase(sessionID)
		if phase != types.SendSending {
			return phase
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return phase
		case <-o.ctx.Done():
			return phase
		}
	}
}

func (o *Orchestrator) buildPrompt(meta *types.SessionMeta, content string, files []Attachment) opencode.PromptRequest {
	var (
		parts   []opencode.PromptPart
		screens []opencode.PromptPart
		refs    []string
		others  []opencode.PromptPart
	)
	for _, file := range files {
		if isHTML(file) {
			doc, err := decodeDataURL(file.URL)
			if err == nil {
				name := screenName(file.Filename)
				screens = append(screens, opencode.PromptPart{
					Type:      types.PartText,
					Text:      fmt.Sprintf("<screen name=%q>\n%s\n</screen>", name, doc),
					Synthetic: true,
				})
				refs = append(refs, "@"+name)
				continue
			}
			o.logger.Debug("screen_attachment_undecodable", logging.F("filename", file.Filename), logging.Err(err))
		}
		others = append(others, opencode.PromptPart{
			Type:     types.PartFile,
			Mime:     file.Mime,
			URL:      file.URL,
			Filename: file.Filename,
		})
	}

	text := content
	if len(refs) > 0 {
		text = strings.TrimSpace(text + "\n\n" + strings.Join(refs, " "))
	}
	if !o.hasUserMessage(meta.ID) {
		parts = append(parts, opencode.PromptPart{
			Type:      types.PartText,
			Text:      skillHint(meta.Platform),
			Synthetic: true,
		})
	}
	if text != "" {
		parts = append(parts, opencode.TextPrompt(text))
	}
	parts = append(parts, screens...)
	parts = append(parts, others...)

	model := o.cfg.Model
	return opencode.PromptRequest{Parts: parts, Model: &model, Agent: o.cfg.Agent}
}

func (o *Orchestrator) hasUserMessage(sessionID string) bool {
	for _, message := range o.realtime.Messages(sessionID) {
		if message.Info.Role == types.RoleUser {
			return true
		}
	}
	return false
}

// skillHint names the design skill the build agent should load on its
// first response.
func skillHint(platform types.Platform) string {
	skill := opencode.SkillWebDesign
	if types.NormalizePlatform(platform) == types.PlatformMobile {
		skill = opencode.SkillMobileDesign
	}
	return fmt.Sprintf("Use the %s skill.", skill)
}

func isHTML(file Attachment) bool {
	mime := strings.ToLower(strings.TrimSpace(file.Mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime == htmlMime
}

func screenName(filename string) string {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "screen"
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// decodeDataURL returns the payload of a data: URL, base64 or percent
// encoded.
func decodeDataURL(raw string) (string, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return "", fmt.Errorf("not a data url")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", fmt.Errorf("malformed data url")
	}
	if strings.HasSuffix(header, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", fmt.Errorf("decode data url: %w", err)
		}
		return string(decoded), nil
	}
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return "", fmt.Errorf("decode data url: %w", err)
	}
	return decoded, nil
}
