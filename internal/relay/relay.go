// Package relay bridges match lifecycle events and cross-node session
// claims over NATS. The relay is optional: an unconfigured URL yields
// a nil *Relay whose methods are all no-ops, so call sites never need
// to branch.
package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Subjects published and consumed by the relay.
const (
	subjectMatchFound   = "blastio.match.found"
	subjectMatchEnded   = "blastio.match.ended"
	subjectSessionClaim = "blastio.session.claim"
)

// Relay is one node's NATS bridge. The node ID distinguishes this
// process's own session claims from claims made elsewhere.
type Relay struct {
	conn   *nats.Conn
	nodeID string
}

// Connect dials NATS. An empty URL returns (nil, nil): the relay is
// disabled and every method on the nil receiver is a no-op.
func Connect(url string) (*Relay, error) {
	if url == "" {
		return nil, nil
	}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	r := &Relay{conn: conn, nodeID: uuid.NewString()}
	slog.Info("relay connected", "url", conn.ConnectedUrl(), "node", r.nodeID)
	return r, nil
}

// Close drains the connection.
func (r *Relay) Close() {
	if r == nil || r.conn == nil {
		return
	}
	r.conn.Close()
}

type matchFoundEvent struct {
	MatchID string   `json:"matchId"`
	UserIDs []string `json:"userIds"`
	NodeID  string   `json:"nodeId"`
}

type matchEndedEvent struct {
	MatchID     string `json:"matchId"`
	WinnerID    string `json:"winnerId"`
	PlayerCount int    `json:"playerCount"`
	NodeID      string `json:"nodeId"`
}

type sessionClaim struct {
	UserID string `json:"userId"`
	NodeID string `json:"nodeId"`
}

// PublishMatchFound announces a committed match to the cluster.
func (r *Relay) PublishMatchFound(matchID string, userIDs []string) {
	r.publish(subjectMatchFound, matchFoundEvent{MatchID: matchID, UserIDs: userIDs, NodeID: r.node()})
}

// PublishMatchEnded announces a finished match to the cluster.
func (r *Relay) PublishMatchEnded(matchID, winnerID string, playerCount int) {
	r.publish(subjectMatchEnded, matchEndedEvent{
		MatchID:     matchID,
		WinnerID:    winnerID,
		PlayerCount: playerCount,
		NodeID:      r.node(),
	})
}

// PublishSessionClaim tells other nodes this node now owns the user's
// connection; they respond by force-disconnecting their copy.
func (r *Relay) PublishSessionClaim(userID string) {
	r.publish(subjectSessionClaim, sessionClaim{UserID: userID, NodeID: r.node()})
}

// SubscribeSessionClaims invokes the handler for every claim made by
// a different node.
func (r *Relay) SubscribeSessionClaims(handler func(userID string)) error {
	if r == nil || r.conn == nil {
		return nil
	}

	_, err := r.conn.Subscribe(subjectSessionClaim, func(msg *nats.Msg) {
		var claim sessionClaim
		if err := json.Unmarshal(msg.Data, &claim); err != nil {
			slog.Warn("decoding session claim", "error", err)
			return
		}
		if claim.NodeID == r.nodeID {
			return
		}
		handler(claim.UserID)
	})
	if err != nil {
		return fmt.Errorf("subscribing to session claims: %w", err)
	}
	return nil
}

func (r *Relay) publish(subject string, v any) {
	if r == nil || r.conn == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("encoding relay event", "subject", subject, "error", err)
		return
	}
	if err := r.conn.Publish(subject, data); err != nil {
		slog.Warn("publishing relay event", "subject", subject, "error", err)
	}
}

func (r *Relay) node() string {
	if r == nil {
		return ""
	}
	return r.nodeID
}
