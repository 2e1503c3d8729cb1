package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"limitwatch/internal/domain"
)

// ErrDecode wraps every decoding failure.
var ErrDecode = errors.New("feed: decode")

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

var (
	snapshotFields = []string{"market", "openPrice", "highPrice", "lowPrice", "lastPrice", "changePercent"}
	dataFields     = []string{"highPrice", "lowPrice", "lastPrice", "changePercent", "lastUpdated"}
)

// Decode parses one raw feed message. Numbers are kept as json.Number so
// no precision is lost before normalization. Snapshot and data events
// missing a required field fail with ErrDecode; a trial data event needs no
// price fields because it is never applied.
func Decode(raw []byte) (domain.Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if env.Event == "" {
		return domain.Event{}, fmt.Errorf("%w: missing event", ErrDecode)
	}

	ev := domain.Event{Kind: domain.EventKind(env.Event), ReceivedAt: time.Now()}
	switch ev.Kind {
	case domain.EventSubscribed, domain.EventUnsubscribed:
		recs, err := decodeRecords(env.Data, ev.Kind == domain.EventSubscribed)
		if err != nil {
			return domain.Event{}, fmt.Errorf("%w: %s: %v", ErrDecode, env.Event, err)
		}
		ev.Subscriptions = recs
	case domain.EventSnapshot:
		agg, err := decodeAggregate(env.Data, snapshotFields, false)
		if err != nil {
			return domain.Event{}, fmt.Errorf("%w: snapshot: %v", ErrDecode, err)
		}
		ev.Aggregate = agg
	case domain.EventData:
		agg, err := decodeAggregate(env.Data, dataFields, true)
		if err != nil {
			return domain.Event{}, fmt.Errorf("%w: data: %v", ErrDecode, err)
		}
		ev.Aggregate = agg
	case domain.EventError:
		obj, _ := decodeObject(env.Data)
		if m, ok := obj["message"].(string); ok {
			ev.Message = m
		} else if len(env.Data) > 0 {
			ev.Message = string(env.Data)
		}
	}
	return ev, nil
}

func decodeObject(data json.RawMessage) (map[string]any, error) {
	if len(data) == 0 {
		return nil, errors.New("missing data")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("data is null")
	}
	return obj, nil
}

// decodeRecords accepts a single record or an array of records. Subscribe
// acks need the symbol to key the id; unsubscribe acks resolve it by id.
func decodeRecords(data json.RawMessage, needSymbol bool) ([]domain.SubscriptionRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("missing data")
	}

	var objs []map[string]any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if trimmed[0] == '[' {
		if err := dec.Decode(&objs); err != nil {
			return nil, err
		}
	} else {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, err
		}
		objs = append(objs, obj)
	}

	recs := make([]domain.SubscriptionRecord, 0, len(objs))
	for i, obj := range objs {
		id, ok := scalarString(obj["id"])
		if !ok {
			return nil, fmt.Errorf("record %d: missing id", i)
		}
		sym, _ := obj["symbol"].(string)
		if sym == "" && needSymbol {
			return nil, fmt.Errorf("record %d: missing symbol", i)
		}
		ch, _ := obj["channel"].(string)
		recs = append(recs, domain.SubscriptionRecord{ID: id, Symbol: sym, Channel: ch})
	}
	return recs, nil
}

func decodeAggregate(data json.RawMessage, required []string, allowTrial bool) (*domain.Aggregate, error) {
	obj, err := decodeObject(data)
	if err != nil {
		return nil, err
	}

	agg := &domain.Aggregate{}
	agg.Symbol, _ = obj["symbol"].(string)

	if v, ok := obj["isTrial"]; ok && allowTrial {
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("isTrial: want bool, got %T", v)
		}
		agg.IsTrial = b
		if b {
			return agg, nil
		}
	}

	if agg.Symbol == "" {
		return nil, errors.New("missing symbol")
	}
	for _, f := range required {
		if _, ok := obj[f]; !ok {
			return nil, fmt.Errorf("missing %s", f)
		}
	}

	agg.Market = obj["market"]
	agg.OpenPrice = obj["openPrice"]
	agg.HighPrice = obj["highPrice"]
	agg.LowPrice = obj["lowPrice"]
	agg.LastPrice = obj["lastPrice"]
	agg.ChangePercent = obj["changePercent"]

	if v, ok := obj["isLimitUpPrice"]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("isLimitUpPrice: want bool, got %T", v)
		}
		agg.IsLimitUpPrice = &b
	}

	if v, ok := obj["lastUpdated"]; ok && v != nil {
		ts, err := micros(v)
		if err != nil {
			return nil, fmt.Errorf("lastUpdated: %w", err)
		}
		agg.LastUpdated = &ts
	}
	return agg, nil
}

func micros(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return int64(f), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("want integer, got %T", v)
	}
}

func scalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, s != ""
	case json.Number:
		return s.String(), true
	default:
		return "", false
	}
}
