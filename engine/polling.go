package engine

import (
	"fmt"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/zishang520/engine.io-go-parser/packet"
	"github.com/zishang520/engine.io-go-parser/parser"
	"github.com/zishang520/engine.io/v2/types"
	"resty.dev/v3"
)

var clientPollingLog = NewLog("polling")

// pollingTransport implements Transport over HTTP long-polling
// (spec.md §4.1, §6): GET to receive the next payload, POST to send a
// batch, both against the same base URL once a session identifier is
// known.
type pollingTransport struct {
	http *resty.Client
	opts *SocketOptions

	base *url.URL
	path string

	// baseURL is the full polling endpoint, gaining "&sid=..." once the
	// handshake completes (spec.md §3: Session.base_url).
	baseURL atomic.Value // string

	sidSet atomic.Bool
}

// newPollingTransport creates a polling transport bound to target
// (the application-supplied URL) and path (the Engine.IO endpoint
// path).
func newPollingTransport(target *url.URL, path string, opts *SocketOptions) *pollingTransport {
	t := &pollingTransport{
		http: resty.New().SetTimeout(opts.RequestTimeout).SetTLSClientConfig(opts.TLSClientConfig),
		opts: opts,
		base: target,
		path: path,
	}
	t.baseURL.Store(buildTransportURL(target, path, transportPolling, false))
	return t
}

func (t *pollingTransport) Name() string { return transportPolling }

func (t *pollingTransport) url() string {
	return t.baseURL.Load().(string)
}

// cacheBusterParam returns "&t=<value>" using the current wall-clock time
// in Unix nanoseconds as the cache-busting value. The value is not taken
// from a monotonic clock, so a system clock adjustment can make it repeat
// or go backwards.
func (t *pollingTransport) cacheBusterParam() string {
	return "&" + t.opts.timestampParam() + "=" + strconv.FormatInt(time.Now().UnixNano(), 10)
}

// Open performs the initial polling handshake (spec.md §4.1 steps 1-4).
func (t *pollingTransport) Open(extraHeaders RequestHeaders) (*OpenDescriptor, error) {
	resp, err := t.http.R().
		SetHeaderMultiValues(mergeHeaders(t.opts.ExtraHeaders, extraHeaders)).
		Get(t.url() + t.cacheBusterParam())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionRefused, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode())
	}

	packets, err := decodePayloadBytes(resp.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	var openPacket *packet.Packet
	for _, p := range packets {
		if p.Type == packet.OPEN {
			openPacket = p
			break
		}
	}
	if openPacket == nil {
		return nil, ErrNoOpenPacket
	}
	if len(packets) > 1 {
		clientPollingLog.Debug("extra packets found in handshake response")
	}

	descriptor, err := decodeOpenDescriptor(openPacket)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	t.sidSet.Store(true)
	t.baseURL.Store(t.url() + "&sid=" + descriptor.Sid)

	return descriptor, nil
}

// Send POSTs one batch as a single payload (spec.md §4.3).
func (t *pollingTransport) Send(packets []*packet.Packet) error {
	data, err := parser.Parserv4().EncodePayload(packets)
	if err != nil {
		return err
	}

	resp, err := t.http.R().
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data.Bytes()).
		Post(t.url())
	if err != nil {
		return NewTransportError("fetch write error", err, nil).Err()
	}
	if resp.StatusCode() != 200 {
		return NewTransportError("fetch write error",
			fmt.Errorf("unexpected status code %d", resp.StatusCode()), nil).Err()
	}
	return nil
}

// Recv performs one polling GET and decodes every packet in the
// resulting payload (spec.md §4.4).
func (t *pollingTransport) Recv() ([]*packet.Packet, error) {
	resp, err := t.http.R().Get(t.url() + t.cacheBusterParam())
	if err != nil {
		return nil, NewTransportError("fetch read error", err, nil).Err()
	}
	if resp.StatusCode() != 200 {
		return nil, NewTransportError("fetch read error",
			fmt.Errorf("unexpected status code %d", resp.StatusCode()), nil).Err()
	}

	packets, err := decodePayloadBytes(resp.Bytes())
	if err != nil {
		return nil, NewTransportError("fetch read error", err, nil).Err()
	}
	return packets, nil
}

// Close releases the underlying HTTP client's idle connections.
func (t *pollingTransport) Close() error {
	t.http.Close()
	return nil
}

func decodePayloadBytes(b []byte) ([]*packet.Packet, error) {
	return parser.Parserv4().DecodePayload(types.NewStringBuffer(b))
}

func mergeHeaders(base, extra RequestHeaders) RequestHeaders {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	merged := make(RequestHeaders, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
