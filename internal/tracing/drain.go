package tracing

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/timeline/internal/cdp"
	"github.com/zjrosen/timeline/internal/log"
)

// closeTimeout bounds IO.close when the drain context is already done.
const closeTimeout = 5 * time.Second

// Drainer reads a remote IO stream to its end.
type Drainer struct {
	session  cdp.Session
	tracer   trace.Tracer
	readSize int
}

// NewDrainer creates a Drainer on session.
func NewDrainer(session cdp.Session, tracer trace.Tracer) *Drainer {
	return &Drainer{session: session, tracer: tracer}
}

// Drain reads handle until the remote side reports eof and returns the
// chunks concatenated in read order. Reads are strictly sequential. The
// handle is closed exactly once whatever the outcome. When dest is set
// the payload replaces the contents of that file before Drain returns.
func (d *Drainer) Drain(ctx context.Context, handle StreamHandle, dest string) (data []byte, err error) {
	ctx, span := d.tracer.Start(ctx, "tracing.Drain", trace.WithAttributes(
		attribute.String("tracing.stream", string(handle)),
	))
	defer func() {
		span.SetAttributes(attribute.Int("tracing.bytes", len(data)))
		endSpan(span, err)
	}()

	data, err = d.readAll(ctx, handle)
	if err != nil {
		return nil, err
	}

	if dest != "" {
		if err := WriteTrace(dest, data); err != nil {
			log.ErrorErr(log.CatIO, "persist failed", err, "path", dest)
			return nil, err
		}
		log.Info(log.CatIO, "trace written", "path", dest, "bytes", len(data))
	}
	return data, nil
}

func (d *Drainer) readAll(ctx context.Context, handle StreamHandle) (data []byte, err error) {
	defer func() {
		if closeErr := d.close(ctx, handle); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	var buf bytes.Buffer
	reads := 0
	for {
		chunk, eof, err := d.read(ctx, handle)
		if err != nil {
			log.ErrorErr(log.CatIO, "read failed", err, "stream", handle, "reads", reads)
			return nil, err
		}
		reads++
		buf.Write(chunk)
		if eof {
			break
		}
	}

	log.Debug(log.CatIO, "stream drained", "stream", handle, "reads", reads, "bytes", buf.Len())
	return buf.Bytes(), nil
}

// read fetches one chunk. Missing fields default to an empty chunk and
// eof=false.
func (d *Drainer) read(ctx context.Context, handle StreamHandle) ([]byte, bool, error) {
	params := proto.IORead{Handle: proto.IOStreamHandle(handle)}
	if d.readSize > 0 {
		size := d.readSize
		params.Size = &size
	}
	raw, err := d.session.Call(ctx, MethodIORead, params)
	if err != nil {
		return nil, false, fmt.Errorf("reading stream %s: %w", handle, err)
	}

	var res proto.IOReadResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, false, fmt.Errorf("decoding %s response: %w", MethodIORead, err)
		}
	}

	if !res.Base64Encoded {
		return []byte(res.Data), res.EOF, nil
	}
	chunk, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, false, fmt.Errorf("decoding base64 chunk from stream %s: %w", handle, err)
	}
	return chunk, res.EOF, nil
}

// close releases handle. It runs on a context detached from ctx's
// cancellation so an abandoned drain still frees the remote stream.
func (d *Drainer) close(ctx context.Context, handle StreamHandle) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()

	if _, err := d.session.Call(ctx, MethodIOClose, proto.IOClose{Handle: proto.IOStreamHandle(handle)}); err != nil {
		log.ErrorErr(log.CatIO, "close failed", err, "stream", handle)
		return fmt.Errorf("closing stream %s: %w", handle, err)
	}
	return nil
}

// WriteTrace replaces the contents of path with data, creating parent
// directories as needed.
func WriteTrace(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("%w: creating directory: %w", ErrPersist, err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil { //nolint:gosec // G306: trace files are meant to be shared
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}
