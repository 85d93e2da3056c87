// Package workitem defines the message carried between producer and consumer.
package workitem

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/adverant/nexus/visionpipe-worker/internal/errors"
)

// Kind tags the variant of an Item
type Kind string

const (
	KindData        Kind = "data"
	KindEndOfStream Kind = "end_of_stream"
)

// UnknownTotal marks an end-of-stream item that did not carry a count.
const UnknownTotal = -1

// legacySentinel is the end-of-stream body older producers send.
const legacySentinel = "-1"

// Item is either Data{Sequence, Key} or EndOfStream{Total}. Run names the
// producer run that sent it; legacy bodies carry no run.
type Item struct {
	Kind     Kind
	Run      string
	Sequence int
	Key      string
	Total    int
}

type wireItem struct {
	Kind  Kind   `json:"kind"`
	Run   string `json:"run,omitempty"`
	Seq   *int   `json:"seq,omitempty"`
	Key   string `json:"key,omitempty"`
	Total *int   `json:"total,omitempty"`
}

// Data builds a data item for the object at 1-based position seq.
func Data(seq int, key string) Item {
	return Item{Kind: KindData, Sequence: seq, Key: key}
}

// EndOfStream builds the sentinel; total is the number of data items sent before it.
func EndOfStream(total int) Item {
	return Item{Kind: KindEndOfStream, Total: total}
}

// WithRun returns a copy of i stamped with run.
func (i Item) WithRun(run string) Item {
	i.Run = run
	return i
}

func (i Item) IsEndOfStream() bool { return i.Kind == KindEndOfStream }

// TotalKnown reports whether the sentinel carries a data item count.
func (i Item) TotalKnown() bool { return i.IsEndOfStream() && i.Total >= 0 }

// ID identifies a data item for deduplication. Items from different runs
// never share an ID.
func (i Item) ID() string {
	if i.Run == "" {
		return fmt.Sprintf("%d:%s", i.Sequence, i.Key)
	}
	return fmt.Sprintf("%s:%d:%s", i.Run, i.Sequence, i.Key)
}

func (i Item) String() string {
	var s string
	switch {
	case !i.IsEndOfStream():
		s = fmt.Sprintf("Data{seq=%d, key=%s}", i.Sequence, i.Key)
	case i.TotalKnown():
		s = fmt.Sprintf("EndOfStream{total=%d}", i.Total)
	default:
		s = "EndOfStream{total=?}"
	}
	if i.Run != "" {
		s += "@" + i.Run
	}
	return s
}

// Encode renders the item as a JSON message body.
func (i Item) Encode() (string, error) {
	w := wireItem{Kind: i.Kind, Run: i.Run}
	switch i.Kind {
	case KindData:
		if i.Sequence < 1 || i.Key == "" {
			return "", fmt.Errorf("data item needs a positive sequence and a key, got %s", i)
		}
		seq := i.Sequence
		w.Seq = &seq
		w.Key = i.Key
	case KindEndOfStream:
		if i.TotalKnown() {
			total := i.Total
			w.Total = &total
		}
	default:
		return "", fmt.Errorf("unknown work item kind %q", i.Kind)
	}

	b, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("failed to marshal work item: %w", err)
	}
	return string(b), nil
}

// Decode parses a message body. Besides the JSON form it accepts the
// comma separated "seq,key" form and the bare "-1" sentinel. Anything
// else is a MALFORMED_MESSAGE error.
func Decode(body string) (Item, error) {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") {
		return decodeJSON(body, trimmed)
	}
	return decodeLegacy(body, trimmed)
}

func decodeJSON(body, trimmed string) (Item, error) {
	var w wireItem
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		return Item{}, errors.NewMalformedMessageError(body, err)
	}

	switch w.Kind {
	case KindData:
		if w.Seq == nil || *w.Seq < 1 || strings.TrimSpace(w.Key) == "" {
			return Item{}, errors.NewMalformedMessageError(body, fmt.Errorf("data item needs seq >= 1 and a key"))
		}
		return Data(*w.Seq, w.Key).WithRun(w.Run), nil
	case KindEndOfStream:
		if w.Total == nil {
			return EndOfStream(UnknownTotal).WithRun(w.Run), nil
		}
		if *w.Total < 0 {
			return Item{}, errors.NewMalformedMessageError(body, fmt.Errorf("negative total %d", *w.Total))
		}
		return EndOfStream(*w.Total).WithRun(w.Run), nil
	}
	return Item{}, errors.NewMalformedMessageError(body, fmt.Errorf("unknown kind %q", w.Kind))
}

func decodeLegacy(body, trimmed string) (Item, error) {
	if trimmed == legacySentinel {
		return EndOfStream(UnknownTotal), nil
	}

	parts := strings.Split(trimmed, ",")
	if len(parts) != 2 {
		return Item{}, errors.NewMalformedMessageError(body, fmt.Errorf("expected 2 fields, got %d", len(parts)))
	}

	seqStr := strings.TrimSpace(parts[0])
	key := strings.TrimSpace(parts[1])
	if seqStr == legacySentinel && key == legacySentinel {
		return EndOfStream(UnknownTotal), nil
	}

	seq, err := strconv.Atoi(seqStr)
	if err != nil {
		return Item{}, errors.NewMalformedMessageError(body, fmt.Errorf("invalid sequence %q: %w", seqStr, err))
	}
	if seq < 1 || key == "" {
		return Item{}, errors.NewMalformedMessageError(body, fmt.Errorf("data item needs seq >= 1 and a key"))
	}
	return Data(seq, key), nil
}
