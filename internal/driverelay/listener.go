package driverelay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"nhooyr.io/websocket"
)

// fileEventSchema gates inbound gateway payloads before they reach admission.
const fileEventSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["requesterId", "sourceRef", "sizeBytes"],
	"properties": {
		"requesterId": {"type": "string", "minLength": 1},
		"sourceRef": {"type": "string", "minLength": 1},
		"displayName": {"type": "string"},
		"sizeBytes": {"type": "integer", "minimum": 1},
		"notificationRef": {"type": "string"}
	},
	"additionalProperties": false
}`

type FileEventHandler interface {
	HandleFileEvent(ev FileEvent) (UploadTask, error)
}

type ListenerOptions struct {
	URL            string
	Token          string
	HTTPClient     *http.Client
	Handler        FileEventHandler
	ReconnectDelay time.Duration
	MaxMessageSize int64
}

// EventListener consumes file events pushed by the messaging gateway over a
// websocket and feeds them into relay admission. It reconnects with a fixed
// delay until its context is cancelled.
type EventListener struct {
	url            string
	token          string
	httpClient     *http.Client
	handler        FileEventHandler
	reconnectDelay time.Duration
	maxMessageSize int64
	schema         *jsonschema.Schema
}

func NewEventListener(opts ListenerOptions) (*EventListener, error) {
	listenURL := strings.TrimSpace(opts.URL)
	if listenURL == "" {
		return nil, ErrInvalidInput
	}
	if opts.Handler == nil {
		return nil, ErrInvalidInput
	}
	reconnectDelay := opts.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 2 * time.Second
	}
	maxMessageSize := opts.MaxMessageSize
	if maxMessageSize <= 0 {
		maxMessageSize = 1 << 20
	}
	schema, err := compileFileEventSchema()
	if err != nil {
		return nil, err
	}
	return &EventListener{
		url:            listenURL,
		token:          strings.TrimSpace(opts.Token),
		httpClient:     opts.HTTPClient,
		handler:        opts.Handler,
		reconnectDelay: reconnectDelay,
		maxMessageSize: maxMessageSize,
		schema:         schema,
	}, nil
}

func compileFileEventSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(fileEventSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("file-event.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("file-event.json")
}

// Run blocks until ctx is cancelled.
func (l *EventListener) Run(ctx context.Context) error {
	if l == nil {
		return ErrInvalidInput
	}
	for {
		err := l.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = err
		if waitErr := sleepContext(ctx, l.reconnectDelay); waitErr != nil {
			return waitErr
		}
	}
}

func (l *EventListener) consume(ctx context.Context) error {
	dialOpts := &websocket.DialOptions{HTTPClient: l.httpClient}
	if l.token != "" {
		dialOpts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + l.token}}
	}
	conn, _, err := websocket.Dial(ctx, l.url, dialOpts)
	if err != nil {
		return err
	}
	conn.SetReadLimit(l.maxMessageSize)
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}
		ev, err := l.decodeEvent(data)
		if err != nil {
			// A malformed payload is the gateway's bug, not a reason to
			// drop the connection.
			continue
		}
		_, _ = l.handler.HandleFileEvent(ev)
	}
}

func (l *EventListener) decodeEvent(data []byte) (FileEvent, error) {
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return FileEvent{}, fmt.Errorf("invalid file event json: %w", err)
	}
	if err := l.schema.Validate(value); err != nil {
		return FileEvent{}, fmt.Errorf("file event rejected by schema: %w", err)
	}
	var ev FileEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return FileEvent{}, err
	}
	if strings.TrimSpace(ev.RequesterID) == "" || strings.TrimSpace(ev.SourceRef) == "" {
		return FileEvent{}, errors.New("file event missing identifiers")
	}
	return ev, nil
}
