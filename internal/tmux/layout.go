package tmux

import "fmt"

// QuadLayout builds the 2x2 pane grid in window 0 of session and
// returns the four stable pane ids in tmux order (top-left, top-right,
// bottom-left, bottom-right). Pane 0 exists from session creation; the
// remaining three come from splits, then the tiled layout evens the
// grid out.
func (c *Client) QuadLayout(session, dir string) ([]string, error) {
	window := session + ":0"
	steps := []struct {
		target     string
		horizontal bool
	}{
		{window + ".0", true},
		{window + ".0", false},
		{window + ".2", false},
	}
	for _, step := range steps {
		if err := c.SplitWindow(step.target, dir, step.horizontal); err != nil {
			return nil, err
		}
		// Splitting moves focus; put it back so the next split divides
		// the intended pane.
		if err := c.SelectPane(step.target); err != nil {
			return nil, err
		}
	}
	if err := c.SelectLayout(window, "tiled"); err != nil {
		return nil, err
	}

	ids, err := c.ListPaneIDs(window)
	if err != nil {
		return nil, err
	}
	if len(ids) != 4 {
		return nil, fmt.Errorf("expected 4 panes in %s, found %d", window, len(ids))
	}
	return ids, nil
}
