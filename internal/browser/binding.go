package browser

import (
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/domreplay/recorder"
)

const bindingName = "__domreplay_binding"

const kindFrameLoad = "frameload"

// hostMessage is one notification posted by the injected script.
type hostMessage struct {
	Kind       string  `json:"kind"`
	Target     [][]int `json:"target"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Left       int     `json:"left"`
	Top        int     `json:"top"`
	Value      string  `json:"value"`
	Checked    bool    `json:"checked"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Visibility string  `json:"visibility"`
}

func parseMessage(payload string) (hostMessage, error) {
	var msg hostMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return msg, fmt.Errorf("browser: binding payload: %w", err)
	}
	if msg.Kind == "" {
		return msg, fmt.Errorf("browser: binding payload without kind")
	}
	return msg, nil
}

func parseVisibility(s string) recorder.Visibility {
	switch s {
	case "visible":
		return recorder.Visible
	case "hidden":
		return recorder.Hidden
	}
	return recorder.Unloaded
}

// hostEvent converts msg; the target is resolved by the caller.
func (msg hostMessage) hostEvent() recorder.HostEvent {
	ev := recorder.HostEvent{
		Kind:    recorder.EventKind(msg.Kind),
		X:       msg.X,
		Y:       msg.Y,
		Left:    msg.Left,
		Top:     msg.Top,
		Value:   msg.Value,
		Checked: msg.Checked,
		Width:   msg.Width,
		Height:  msg.Height,
	}
	if ev.Kind == recorder.EventVisibility {
		ev.Visibility = parseVisibility(msg.Visibility)
	}
	return ev
}
