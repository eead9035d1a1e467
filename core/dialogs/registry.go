package dialogs

import (
	"fmt"

	"github.com/m3rciful/qnabot/core/dialog"
	"github.com/m3rciful/qnabot/core/qna"
)

// Category is one menu entry backed by its own knowledge base.
type Category struct {
	Label    string
	DialogID string
	Client   qna.Client
	Texts    FAQTexts
}

// NewSet registers the main menu and one FAQ dialog per category.
func NewSet(menu MenuTexts, categories []Category) (*dialog.Set, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("dialogs: at least one category is required")
	}
	options := make([]MenuOption, 0, len(categories))
	all := make([]dialog.Dialog, 0, len(categories)+1)
	for _, c := range categories {
		if c.Client == nil {
			return nil, fmt.Errorf("dialogs: category %q has no qna client", c.Label)
		}
		options = append(options, MenuOption{Label: c.Label, DialogID: c.DialogID})
		all = append(all, NewFAQ(c.DialogID, c.Client, c.Texts))
	}
	all = append([]dialog.Dialog{NewMenu(MainMenuID, menu, options)}, all...)
	return dialog.NewSet(all...)
}
