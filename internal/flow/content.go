package flow

import (
	"bytes"
	"context"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/botforge/botforge/internal/kv/typed"
	"github.com/botforge/botforge/internal/media"
	"github.com/botforge/botforge/internal/telegram"
)

const (
	captionMaxLen     = 1024
	mediaGroupMaxSize = 10
	fileIDCacheTTL    = 180 * 24 * time.Hour
)

// TextMarkup selects how a content text is parsed by the platform.
type TextMarkup string

const (
	MarkupNone     TextMarkup = "none"
	MarkupMarkdown TextMarkup = "markdown"
	MarkupHTML     TextMarkup = "html"
)

func (m TextMarkup) parseMode() models.ParseMode {
	switch m {
	case MarkupMarkdown:
		return models.ParseModeMarkdown
	case MarkupHTML:
		return models.ParseModeHTML
	default:
		return ""
	}
}

type ContentText struct {
	Text   Text       `json:"text"`
	Markup TextMarkup `json:"markup,omitempty"`
}

// ContentAttachment references an owner-scoped media blob; image is the
// only supported kind for now.
type ContentAttachment struct {
	Image *media.MediaID `json:"image,omitempty"`
}

// Content is one unit: an optional text and optional attachments, sent
// as a single message or media group.
type Content struct {
	Text        *ContentText        `json:"text,omitempty"`
	Attachments []ContentAttachment `json:"attachments,omitempty"`
}

func (c Content) isEmpty() bool {
	return (c.Text == nil || c.Text.Text.IsEmpty()) && len(c.Attachments) == 0
}

// maxVariantLen is the longest localized variant, in runes.
func (c Content) maxVariantLen() int {
	if c.Text == nil {
		return 0
	}
	t := c.Text.Text
	if t.ByLanguage == nil {
		return len([]rune(t.Plain))
	}
	max := 0
	for _, s := range t.ByLanguage {
		if n := len([]rune(s)); n > max {
			max = n
		}
	}
	return max
}

// ContentBlock sends a fixed sequence of content units, then optionally
// transitions.
type ContentBlock struct {
	BlockID     string    `json:"block_id"`
	Contents    []Content `json:"contents"`
	NextBlockID *BlockID  `json:"next_block_id,omitempty"`

	units       []Content
	fileIDCache *typed.KeyValue[string]
}

func (b *ContentBlock) ID() BlockID { return b.BlockID }

func (b *ContentBlock) PossibleNextBlockIDs() []BlockID { return optionalNext(b.NextBlockID) }

func (b *ContentBlock) IsCatchAll() bool { return false }

func (b *ContentBlock) Setup(sctx *SetupContext) (SetupResult, error) {
	if len(b.Contents) == 0 {
		return SetupResult{}, invalidFlow("content block %q has no content", b.BlockID)
	}
	langs := sctx.Languages()
	var units []Content
	for i, c := range b.Contents {
		if c.isEmpty() {
			return SetupResult{}, invalidFlow("content block %q: unit %d is empty", b.BlockID, i)
		}
		if c.Text != nil {
			if err := c.Text.Text.ValidateCoverage(langs); err != nil {
				return SetupResult{}, invalidFlow("content block %q: unit %d: %s", b.BlockID, i, err)
			}
		}
		units = append(units, splitContentUnit(c)...)
	}
	b.units = units
	b.fileIDCache = typed.NewKeyValue[string](typed.Options{
		Name:    "media-file-id",
		Prefix:  storePrefix,
		TTL:     fileIDCacheTTL,
		Backend: sctx.Backend,
	})
	return SetupResult{}, nil
}

// splitContentUnit normalizes one configured unit into sendable units:
// over-long captions move into their own text unit, attachment lists are
// chunked to the platform's media group limit.
func splitContentUnit(c Content) []Content {
	var out []Content
	text := c.Text
	if len(c.Attachments) > 0 && c.maxVariantLen() > captionMaxLen {
		out = append(out, Content{Text: text})
		text = nil
	}
	if len(c.Attachments) == 0 {
		out = append(out, Content{Text: text})
		return out
	}
	for start := 0; start < len(c.Attachments); start += mediaGroupMaxSize {
		end := start + mediaGroupMaxSize
		if end > len(c.Attachments) {
			end = len(c.Attachments)
		}
		unit := Content{Attachments: c.Attachments[start:end]}
		if start == 0 {
			unit.Text = text
		}
		out = append(out, unit)
	}
	return out
}

func (b *ContentBlock) Enter(ctx context.Context, fctx *Context) error {
	sctx := fctx.Setup
	for _, unit := range b.units {
		if err := b.sendUnit(ctx, fctx, unit); err != nil {
			sctx.Log.Error().Err(err).Str("block_id", b.BlockID).Msg("failed to send content unit")
			return err
		}
	}
	if b.NextBlockID != nil {
		return fctx.EnterBlock(ctx, *b.NextBlockID)
	}
	return nil
}

func (b *ContentBlock) sendUnit(ctx context.Context, fctx *Context, unit Content) error {
	sctx := fctx.Setup
	var text string
	var parseMode models.ParseMode
	if unit.Text != nil {
		text = unit.Text.Text.Localize(fctx.Language, sctx.defaultLanguage())
		parseMode = unit.Text.Markup.parseMode()
	}

	if len(unit.Attachments) == 0 {
		_, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (*models.Message, error) {
			return sctx.Client.SendMessage(ctx, &bot.SendMessageParams{
				ChatID:    fctx.ChatID,
				Text:      text,
				ParseMode: parseMode,
			})
		})
		return err
	}

	attachments := b.loadAttachments(ctx, fctx, unit.Attachments)
	if len(attachments) == 0 {
		if text == "" {
			sctx.Log.Error().Str("block_id", b.BlockID).Msg("no attachments loaded and no text, skipping unit")
			return nil
		}
		_, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (*models.Message, error) {
			return sctx.Client.SendMessage(ctx, &bot.SendMessageParams{
				ChatID:    fctx.ChatID,
				Text:      text,
				ParseMode: parseMode,
			})
		})
		return err
	}

	if len(attachments) == 1 {
		return b.sendSinglePhoto(ctx, fctx, attachments[0], text, parseMode)
	}
	return b.sendMediaGroup(ctx, fctx, attachments, text, parseMode)
}

// loadedAttachment is either a previously seen platform file id or raw
// bytes freshly read from the media store.
type loadedAttachment struct {
	mediaID media.MediaID
	fileID  string
	content []byte
}

// loadAttachments resolves each attachment, preferring the file id cache
// over a media store read. Unresolvable attachments are dropped with an
// error log.
func (b *ContentBlock) loadAttachments(ctx context.Context, fctx *Context, refs []ContentAttachment) []loadedAttachment {
	sctx := fctx.Setup
	var out []loadedAttachment
	for _, ref := range refs {
		if ref.Image == nil {
			continue
		}
		mediaID := *ref.Image
		cacheKey := sctx.BotPrefix() + "/" + mediaID
		if fileID, ok, err := b.fileIDCache.Load(ctx, cacheKey); err == nil && ok {
			out = append(out, loadedAttachment{mediaID: mediaID, fileID: fileID})
			continue
		}
		m, err := sctx.Media.LoadMedia(ctx, sctx.OwnerID, mediaID)
		if err != nil || m == nil {
			sctx.Log.Error().Err(err).Str("media_id", mediaID).Msg("failed to load attachment media")
			continue
		}
		out = append(out, loadedAttachment{mediaID: mediaID, content: m.Content})
	}
	return out
}

func (b *ContentBlock) sendSinglePhoto(ctx context.Context, fctx *Context, att loadedAttachment, caption string, parseMode models.ParseMode) error {
	sctx := fctx.Setup
	var photo models.InputFile
	if att.fileID != "" {
		photo = &models.InputFileString{Data: att.fileID}
	} else {
		photo = &models.InputFileUpload{Filename: att.mediaID, Data: bytes.NewReader(att.content)}
	}
	msg, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (*models.Message, error) {
		return sctx.Client.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:    fctx.ChatID,
			Photo:     photo,
			Caption:   caption,
			ParseMode: parseMode,
		})
	})
	if err != nil {
		return err
	}
	if att.fileID == "" {
		b.cacheFileID(ctx, fctx, att.mediaID, msg)
	}
	return nil
}

func (b *ContentBlock) sendMediaGroup(ctx context.Context, fctx *Context, atts []loadedAttachment, caption string, parseMode models.ParseMode) error {
	sctx := fctx.Setup
	inputs := make([]models.InputMedia, 0, len(atts))
	for i, att := range atts {
		item := &models.InputMediaPhoto{}
		if att.fileID != "" {
			item.Media = att.fileID
		} else {
			item.Media = "attach://" + att.mediaID
			item.MediaAttachment = bytes.NewReader(att.content)
		}
		if i == 0 {
			item.Caption = caption
			item.ParseMode = parseMode
		}
		inputs = append(inputs, item)
	}
	msgs, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) ([]*models.Message, error) {
		return sctx.Client.SendMediaGroup(ctx, &bot.SendMediaGroupParams{
			ChatID: fctx.ChatID,
			Media:  inputs,
		})
	})
	if err != nil {
		return err
	}
	for i, att := range atts {
		if att.fileID == "" && i < len(msgs) {
			b.cacheFileID(ctx, fctx, att.mediaID, msgs[i])
		}
	}
	return nil
}

// cacheFileID remembers the platform file id from a sent message so the
// next send can reference it instead of re-uploading.
func (b *ContentBlock) cacheFileID(ctx context.Context, fctx *Context, mediaID media.MediaID, msg *models.Message) {
	if msg == nil || len(msg.Photo) == 0 {
		return
	}
	fileID := msg.Photo[len(msg.Photo)-1].FileID
	key := fctx.Setup.BotPrefix() + "/" + mediaID
	if err := b.fileIDCache.Save(ctx, key, fileID); err != nil {
		fctx.Setup.Log.Error().Err(err).Str("media_id", mediaID).Msg("failed to cache file id")
	}
}

var _ Block = (*ContentBlock)(nil)
