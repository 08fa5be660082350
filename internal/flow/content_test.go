package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botforge/botforge/internal/media"
)

func attachment(id string) ContentAttachment {
	mediaID := media.MediaID(id)
	return ContentAttachment{Image: &mediaID}
}

func TestSplitContentUnitTextOnly(t *testing.T) {
	unit := Content{Text: &ContentText{Text: PlainText("hello")}}
	out := splitContentUnit(unit)
	require.Len(t, out, 1)
	assert.Equal(t, "hello", out[0].Text.Text.Plain)
	assert.Empty(t, out[0].Attachments)
}

func TestSplitContentUnitShortCaptionStaysAttached(t *testing.T) {
	unit := Content{
		Text:        &ContentText{Text: PlainText("caption")},
		Attachments: []ContentAttachment{attachment("a"), attachment("b")},
	}
	out := splitContentUnit(unit)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Text)
	assert.Equal(t, "caption", out[0].Text.Text.Plain)
	assert.Len(t, out[0].Attachments, 2)
}

func TestSplitContentUnitLongCaptionBecomesOwnMessage(t *testing.T) {
	long := strings.Repeat("x", captionMaxLen+1)
	unit := Content{
		Text:        &ContentText{Text: PlainText(long)},
		Attachments: []ContentAttachment{attachment("a")},
	}
	out := splitContentUnit(unit)
	require.Len(t, out, 2)
	require.NotNil(t, out[0].Text)
	assert.Equal(t, long, out[0].Text.Text.Plain)
	assert.Empty(t, out[0].Attachments)
	assert.Nil(t, out[1].Text)
	assert.Len(t, out[1].Attachments, 1)
}

func TestSplitContentUnitChunksMediaGroups(t *testing.T) {
	atts := make([]ContentAttachment, 23)
	for i := range atts {
		atts[i] = attachment(strings.Repeat("m", i+1))
	}
	unit := Content{Text: &ContentText{Text: PlainText("caption")}, Attachments: atts}
	out := splitContentUnit(unit)
	require.Len(t, out, 3)
	assert.Len(t, out[0].Attachments, mediaGroupMaxSize)
	assert.Len(t, out[1].Attachments, mediaGroupMaxSize)
	assert.Len(t, out[2].Attachments, 3)
	// the caption rides on the first chunk only
	require.NotNil(t, out[0].Text)
	assert.Nil(t, out[1].Text)
	assert.Nil(t, out[2].Text)
}

func TestContentBlockSendsUnitsThenAdvances(t *testing.T) {
	cfg := UserFlowConfig{
		Entrypoints: []EntryPointConfig{
			{Command: &CommandEntryPoint{
				EntrypointID: "entry-start",
				Command:      "start",
				NextBlockID:  blockID("content"),
			}},
		},
		Blocks: []BlockConfig{
			{Content: &ContentBlock{
				BlockID: "content",
				Contents: []Content{
					{Text: &ContentText{Text: PlainText("first")}},
					{Text: &ContentText{Text: PlainText("*second*"), Markup: MarkupMarkdown}},
				},
				NextBlockID: blockID("done"),
			}},
			{Message: &MessageBlock{BlockID: "done", MessageText: PlainText("done")}},
		},
	}
	env := setupFlow(t, cfg)

	env.dispatch(privateMessage(7, "/start"))
	require.Equal(t, []string{"first", "*second*", "done"}, env.sentTexts())
	assert.Equal(t, models.ParseMode(""), env.sent[0].ParseMode)
	assert.Equal(t, models.ParseModeMarkdown, env.sent[1].ParseMode)

	// the user ends up in the terminal block
	active, ok, err := env.flow.ActiveBlock(context.Background(), env.sctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "done", active)
}

func TestContentBlockRejectsEmptyUnits(t *testing.T) {
	f, err := NewUserFlow(UserFlowConfig{
		Blocks: []BlockConfig{
			{Content: &ContentBlock{BlockID: "content", Contents: []Content{{}}}},
		},
	})
	require.NoError(t, err)
	_, err = f.Setup(newBareSetupContext(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFlow)
}

func TestContentBlockRejectsNoContent(t *testing.T) {
	f, err := NewUserFlow(UserFlowConfig{
		Blocks: []BlockConfig{
			{Content: &ContentBlock{BlockID: "content"}},
		},
	})
	require.NoError(t, err)
	_, err = f.Setup(newBareSetupContext(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFlow)
}
