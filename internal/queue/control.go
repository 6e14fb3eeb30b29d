package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/your-org/crowdcount/internal/analysis"
	"github.com/your-org/crowdcount/internal/zones"
)

const (
	ActionStart    = "start"
	ActionStop     = "stop"
	ActionSetZones = "set_zones"
)

// Command is a control message received on the control subject.
type Command struct {
	Action   string       `json:"action"`
	FeedPath string       `json:"feed_path,omitempty"`
	Zones    []zones.Zone `json:"zones,omitempty"`
}

// Reply answers a control request.
type Reply struct {
	Status    string `json:"status,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	ZoneCount *int   `json:"zone_count,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Handler interface {
	Handle(ctx context.Context, cmd Command) Reply
}

// ParseCommand decodes and validates a control message.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("parse command: %w", err)
	}
	switch cmd.Action {
	case ActionStart:
		if cmd.FeedPath == "" {
			return cmd, errors.New("start requires feed_path")
		}
	case ActionSetZones:
		if err := checkZones(data); err != nil {
			return cmd, err
		}
	case ActionStop:
	default:
		return cmd, fmt.Errorf("unknown action: %q", cmd.Action)
	}
	return cmd, nil
}

// checkZones applies the same shape rules as POST /api/set_zones: the zones
// array must be present and every entry must carry points.
func checkZones(data []byte) error {
	var raw struct {
		Zones *[]struct {
			Points *[]zones.Point `json:"points"`
		} `json:"zones"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse zones: %w", err)
	}
	if raw.Zones == nil {
		return errors.New("set_zones requires zones")
	}
	for i, z := range *raw.Zones {
		if z.Points == nil {
			return fmt.Errorf("zone %d: points required", i)
		}
	}
	return nil
}

func handleControl(ctx context.Context, data []byte, h Handler) Reply {
	cmd, err := ParseCommand(data)
	if err != nil {
		slog.Warn("invalid control command", "error", err)
		return Reply{Error: err.Error()}
	}
	slog.Info("control command", "action", cmd.Action)
	return h.Handle(ctx, cmd)
}

type controller interface {
	Start(ctx context.Context, feedPath string) (analysis.StartResult, error)
	Stop() analysis.StopResult
}

// Dispatcher applies control commands to the analysis controller and the
// zone store, mirroring the HTTP operations.
type Dispatcher struct {
	Controller controller
	Zones      *zones.Store
}

func (d *Dispatcher) Handle(ctx context.Context, cmd Command) Reply {
	switch cmd.Action {
	case ActionStart:
		res, err := d.Controller.Start(ctx, cmd.FeedPath)
		if err != nil {
			return Reply{Error: err.Error()}
		}
		return Reply{Status: res.Status.String(), SessionID: res.SessionID}
	case ActionStop:
		return Reply{Status: d.Controller.Stop().String()}
	case ActionSetZones:
		n := d.Zones.Set(cmd.Zones)
		return Reply{Status: "zones_received", ZoneCount: &n}
	}
	return Reply{Error: fmt.Sprintf("unknown action: %q", cmd.Action)}
}
