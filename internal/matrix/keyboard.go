// ABOUTME: Numbered-reply keyboards for Matrix rooms, which have no inline buttons
// ABOUTME: Each room remembers the buttons of its latest message; "2" picks the second

package matrix

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/2389/taskbot/internal/bot"
)

// keyboards tracks the last keyboard sent to each room.
type keyboards struct {
	mu     sync.Mutex
	byRoom map[string][]bot.Button
}

func newKeyboards() *keyboards {
	return &keyboards{byRoom: make(map[string][]bot.Button)}
}

// set replaces the room's keyboard. No buttons clears it.
func (k *keyboards) set(room string, buttons []bot.Button) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(buttons) == 0 {
		delete(k.byRoom, room)
		return
	}
	k.byRoom[room] = append([]bot.Button(nil), buttons...)
}

// resolve maps a numeric reply to the token of that button.
func (k *keyboards) resolve(room, text string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return "", false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	buttons := k.byRoom[room]
	if n < 1 || n > len(buttons) {
		return "", false
	}
	return buttons[n-1].Token, true
}

// numbered appends the buttons to text as a numbered list.
func numbered(text string, buttons []bot.Button) string {
	if len(buttons) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\n")
	for i, btn := range buttons {
		fmt.Fprintf(&b, "%d. %s\n", i+1, btn.Label)
	}
	b.WriteString("\nReply with a number to choose.")
	return b.String()
}
