// Package storage persists routing configuration, campaigns, call lists,
// live queue items and append-only records. Records are stored as JSON
// documents addressed by kind and id on one of several backends.
package storage

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by Get for a missing document
	ErrNotFound = errors.New("document not found")
	// ErrExists is returned by Insert when the document is already stored
	ErrExists = errors.New("document already exists")
)

// Document kinds
const (
	KindRoutingRule       = "routing_rule"
	KindPriorityRule      = "priority_rule"
	KindAgentSkill        = "agent_skill"
	KindQueueConfig       = "queue_config"
	KindIVRMenu           = "ivr_menu"
	KindCampaign          = "campaign"
	KindCallListItem      = "call_list_item"
	KindDialerSession     = "dialer_session"
	KindCallResult        = "call_result"
	KindQueueItem         = "queue_item"
	KindInteractionRecord = "interaction_record"
	KindCustomer          = "customer"
	KindSetting           = "setting"
)

// Backend stores JSON documents. Ids are opaque; List matches them by prefix.
// Delete of a missing document is not an error.
type Backend interface {
	Put(ctx context.Context, kind, id string, doc []byte) error
	Insert(ctx context.Context, kind, id string, doc []byte) error
	Get(ctx context.Context, kind, id string) ([]byte, error)
	List(ctx context.Context, kind, prefix string) ([][]byte, error)
	Delete(ctx context.Context, kind, id string) error
	Truncate(ctx context.Context) error
	Close() error
}

// key joins id parts so that List can select by leading parts
func key(parts ...string) string {
	return strings.Join(parts, "#")
}
