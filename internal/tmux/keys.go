package tmux

// Key is a unit of input for SendKeys. Literal keys carry text typed as-is;
// special keys name a tmux key symbol like "Enter", "Escape" or "C-c".
type Key struct {
	Value   string
	Special bool
}

// Literal wraps text as a literal key.
func Literal(text string) Key {
	return Key{Value: text}
}

// Special wraps a tmux key name as a special key.
func Special(name string) Key {
	return Key{Value: name, Special: true}
}

// Text splits a string into one literal key per project convention. Kept as
// a helper so callers building mixed sequences stay readable.
func Text(s string) []Key {
	return []Key{Literal(s)}
}

// SendKeys delivers a key sequence to a session. Consecutive literal keys are
// concatenated into a single send-keys -l call so multi-character text does
// not fan out into per-character subprocesses; each special key is sent on
// its own without -l so tmux interprets the name. When enter is true a final
// Enter keypress is appended.
func (c *Client) SendKeys(name string, keys []Key, enter bool) Result {
	var literal string

	flush := func() Result {
		if literal == "" {
			return Result{Success: true}
		}
		res := c.run("send-keys", "-t", name, "-l", literal)
		literal = ""
		return res
	}

	for _, k := range keys {
		if !k.Special {
			literal += k.Value
			continue
		}
		if res := flush(); !res.Success {
			return res
		}
		if res := c.run("send-keys", "-t", name, k.Value); !res.Success {
			return res
		}
	}
	if res := flush(); !res.Success {
		return res
	}

	if enter {
		return c.run("send-keys", "-t", name, "Enter")
	}
	return Result{Success: true}
}

// SendText is the common case: type a line of text and press Enter.
func (c *Client) SendText(name, text string) Result {
	return c.SendKeys(name, Text(text), true)
}

// SendInterrupt delivers Ctrl-C to the session's pane.
func (c *Client) SendInterrupt(name string) Result {
	return c.run("send-keys", "-t", name, "C-c")
}
