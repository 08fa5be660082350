package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/botforge/botforge/internal/telegram"
)

// MenuItem has a label and exactly one action: descend into a submenu,
// terminate into a block, or open a link.
type MenuItem struct {
	Label       Text     `json:"label"`
	Submenu     *Menu    `json:"submenu,omitempty"`
	NextBlockID *BlockID `json:"next_block_id,omitempty"`
	LinkURL     *string  `json:"link_url,omitempty"`
}

func (i MenuItem) actionCount() int {
	n := 0
	if i.Submenu != nil {
		n++
	}
	if i.NextBlockID != nil {
		n++
	}
	if i.LinkURL != nil {
		n++
	}
	return n
}

// Menu is one node of the menu tree.
type Menu struct {
	Text         Text       `json:"text"`
	Items        []MenuItem `json:"items"`
	NoBackButton bool       `json:"no_back_button,omitempty"`
}

type MenuConfig struct {
	BackLabel            Text `json:"back_label"`
	LockAfterTermination bool `json:"lock_after_termination,omitempty"`
}

// MenuBlock presents a nested inline-button menu. Node ids are derived
// from a stable hash of the tree plus a depth-first index, so callbacks
// from messages sent by an earlier process resolve as long as the tree
// is unchanged.
type MenuBlock struct {
	BlockID string     `json:"block_id"`
	Menu    Menu       `json:"menu"`
	Config  MenuConfig `json:"config"`

	treeHash    string
	nodes       map[int]*menuNode
	terminators map[int]*menuTerminator
}

type menuNode struct {
	menu   *Menu
	index  int
	depth  int
	parent *menuNode
}

type menuTerminator struct {
	item        *MenuItem
	nextBlockID BlockID
}

func (b *MenuBlock) ID() BlockID { return b.BlockID }

func (b *MenuBlock) PossibleNextBlockIDs() []BlockID {
	var out []BlockID
	var walk func(m *Menu)
	walk = func(m *Menu) {
		for i := range m.Items {
			item := &m.Items[i]
			if item.NextBlockID != nil {
				out = append(out, *item.NextBlockID)
			}
			if item.Submenu != nil {
				walk(item.Submenu)
			}
		}
	}
	walk(&b.Menu)
	return out
}

func (b *MenuBlock) IsCatchAll() bool { return false }

func (b *MenuBlock) Setup(sctx *SetupContext) (SetupResult, error) {
	langs := sctx.Languages()
	if err := b.validateMenu(&b.Menu, langs); err != nil {
		return SetupResult{}, err
	}
	hash, err := menuTreeHash(&b.Menu)
	if err != nil {
		return SetupResult{}, err
	}
	b.treeHash = hash
	b.indexTree()

	sctx.Router.HandleCallback("menu:"+b.treeHash+"-", func(ctx context.Context, client telegram.Client, upd *models.Update) error {
		return b.handleNavigate(ctx, sctx, upd)
	})
	sctx.Router.HandleCallback("terminator:"+b.treeHash+"-", func(ctx context.Context, client telegram.Client, upd *models.Update) error {
		return b.handleTerminate(ctx, sctx, upd)
	})
	return SetupResult{}, nil
}

func (b *MenuBlock) validateMenu(m *Menu, langs []Language) error {
	if err := m.Text.ValidateCoverage(langs); err != nil {
		return invalidFlow("menu block %q: %s", b.BlockID, err)
	}
	for i := range m.Items {
		item := &m.Items[i]
		if item.actionCount() != 1 {
			return invalidFlow("menu block %q: item %q must have exactly one action", b.BlockID, item.Label.Plain)
		}
		if err := item.Label.ValidateCoverage(langs); err != nil {
			return invalidFlow("menu block %q: %s", b.BlockID, err)
		}
		if item.Submenu != nil {
			if err := b.validateMenu(item.Submenu, langs); err != nil {
				return err
			}
		}
	}
	return nil
}

// indexTree assigns depth-first indices to menu nodes and terminal items.
// If a node is ever reachable from multiple parents, the shortest-depth
// parent wins for back navigation.
func (b *MenuBlock) indexTree() {
	b.nodes = make(map[int]*menuNode)
	b.terminators = make(map[int]*menuTerminator)
	next := 0
	var walk func(m *Menu, parent *menuNode, depth int)
	walk = func(m *Menu, parent *menuNode, depth int) {
		if existing := b.findNode(m); existing != nil {
			if parent != nil && (existing.parent == nil || depth < existing.depth) {
				existing.parent = parent
				existing.depth = depth
			}
			return
		}
		node := &menuNode{menu: m, index: next, depth: depth, parent: parent}
		b.nodes[node.index] = node
		next++
		for i := range m.Items {
			item := &m.Items[i]
			switch {
			case item.Submenu != nil:
				walk(item.Submenu, node, depth+1)
			case item.NextBlockID != nil:
				b.terminators[next] = &menuTerminator{item: item, nextBlockID: *item.NextBlockID}
				next++
			default:
				// link items need no callback id
			}
		}
	}
	walk(&b.Menu, nil, 0)
}

func (b *MenuBlock) findNode(m *Menu) *menuNode {
	for _, n := range b.nodes {
		if n.menu == m {
			return n
		}
	}
	return nil
}

// menuTreeHash is a stable 64-bit hash of a canonical projection of the
// tree; editor-only fields do not participate.
func menuTreeHash(m *Menu) (string, error) {
	canonical, err := json.Marshal(menuProjection(m))
	if err != nil {
		return "", err
	}
	h := fnv.New64a()
	h.Write(canonical)
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

type menuItemProj struct {
	Label Text      `json:"l"`
	Next  *BlockID  `json:"n,omitempty"`
	Link  *string   `json:"u,omitempty"`
	Sub   *menuProj `json:"s,omitempty"`
}

type menuProj struct {
	Text  Text           `json:"t"`
	Items []menuItemProj `json:"i"`
}

func menuProjection(m *Menu) *menuProj {
	p := &menuProj{Text: m.Text}
	for i := range m.Items {
		item := &m.Items[i]
		ip := menuItemProj{Label: item.Label, Next: item.NextBlockID, Link: item.LinkURL}
		if item.Submenu != nil {
			ip.Sub = menuProjection(item.Submenu)
		}
		p.Items = append(p.Items, ip)
	}
	return p
}

func (b *MenuBlock) Enter(ctx context.Context, fctx *Context) error {
	root := b.findNode(&b.Menu)
	if root == nil {
		return fmt.Errorf("menu block %q has no indexed root", b.BlockID)
	}
	markup := b.markupFor(root, fctx.Language, fctx.Setup.defaultLanguage())
	_, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (*models.Message, error) {
		return fctx.Setup.Client.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:      fctx.ChatID,
			Text:        root.menu.Text.Localize(fctx.Language, fctx.Setup.defaultLanguage()),
			ReplyMarkup: markup,
		})
	})
	return err
}

// markupFor renders one button per row; submenu and terminal items carry
// callback payloads "<kind>:<tree-hash>-<index>".
func (b *MenuBlock) markupFor(node *menuNode, lang Language, fallback Language) *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton
	for i := range node.menu.Items {
		item := &node.menu.Items[i]
		label := item.Label.Localize(lang, fallback)
		switch {
		case item.Submenu != nil:
			sub := b.findNode(item.Submenu)
			if sub != nil {
				rows = append(rows, []models.InlineKeyboardButton{{
					Text:         label,
					CallbackData: fmt.Sprintf("menu:%s-%d", b.treeHash, sub.index),
				}})
			}
		case item.NextBlockID != nil:
			idx := b.terminatorIndex(item)
			rows = append(rows, []models.InlineKeyboardButton{{
				Text:         label,
				CallbackData: fmt.Sprintf("terminator:%s-%d", b.treeHash, idx),
			}})
		case item.LinkURL != nil:
			rows = append(rows, []models.InlineKeyboardButton{{Text: label, URL: *item.LinkURL}})
		}
	}
	if node.parent != nil && !node.menu.NoBackButton {
		backLabel := b.Config.BackLabel.Localize(lang, fallback)
		if backLabel == "" {
			backLabel = "back"
		}
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         backLabel,
			CallbackData: fmt.Sprintf("menu:%s-%d", b.treeHash, node.parent.index),
		}})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func (b *MenuBlock) terminatorIndex(item *MenuItem) int {
	for idx, t := range b.terminators {
		if t.item == item {
			return idx
		}
	}
	return -1
}

func (b *MenuBlock) parsePayloadIndex(data string, kind string) (int, bool) {
	prefix := kind + ":" + b.treeHash + "-"
	if !strings.HasPrefix(data, prefix) {
		return 0, false
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(data, prefix))
	if err != nil {
		return 0, false
	}
	return idx, true
}

// handleNavigate edits the menu message in place to show the selected
// node.
func (b *MenuBlock) handleNavigate(ctx context.Context, sctx *SetupContext, upd *models.Update) error {
	cq := upd.CallbackQuery
	idx, ok := b.parsePayloadIndex(cq.Data, "menu")
	if !ok {
		return nil
	}
	node, ok := b.nodes[idx]
	if !ok {
		return fmt.Errorf("menu block %q: callback for unknown node %d", b.BlockID, idx)
	}
	defer b.answerCallback(ctx, sctx, cq.ID)
	msg := cq.Message.Message
	if msg == nil {
		return nil
	}
	fctx, err := sctx.newContext(ctx, upd)
	if err != nil {
		return err
	}
	markup := b.markupFor(node, fctx.Language, sctx.defaultLanguage())
	_, err = telegram.RateLimitRetry(ctx, func(ctx context.Context) (*models.Message, error) {
		return sctx.Client.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:      msg.Chat.ID,
			MessageID:   msg.ID,
			Text:        node.menu.Text.Localize(fctx.Language, sctx.defaultLanguage()),
			ReplyMarkup: markup,
		})
	})
	return err
}

// handleTerminate resolves a terminal item, optionally locks the menu
// message, and transitions into the target block.
func (b *MenuBlock) handleTerminate(ctx context.Context, sctx *SetupContext, upd *models.Update) error {
	cq := upd.CallbackQuery
	idx, ok := b.parsePayloadIndex(cq.Data, "terminator")
	if !ok {
		return nil
	}
	term, ok := b.terminators[idx]
	if !ok {
		return fmt.Errorf("menu block %q: callback for unknown terminator %d", b.BlockID, idx)
	}
	b.answerCallback(ctx, sctx, cq.ID)
	if b.Config.LockAfterTermination {
		if msg := cq.Message.Message; msg != nil {
			_, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (*models.Message, error) {
				return sctx.Client.EditMessageReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{
					ChatID:      msg.Chat.ID,
					MessageID:   msg.ID,
					ReplyMarkup: models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{}},
				})
			})
			if err != nil {
				sctx.Log.Error().Err(err).Str("block_id", b.BlockID).Msg("failed to lock menu message")
			}
		}
	}
	fctx, err := sctx.newContext(ctx, upd)
	if err != nil {
		return err
	}
	return fctx.EnterBlock(ctx, term.nextBlockID)
}

func (b *MenuBlock) answerCallback(ctx context.Context, sctx *SetupContext, callbackID string) {
	_, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (bool, error) {
		return sctx.Client.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: callbackID})
	})
	if err != nil {
		sctx.Log.Error().Err(err).Str("block_id", b.BlockID).Msg("failed to answer callback query")
	}
}

var _ Block = (*MenuBlock)(nil)
