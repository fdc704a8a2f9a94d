// Package session implements the top-level DFU actions — program, verify,
// erase, send-command, and cooperative abort — by driving the packet
// protocol and chunking transport against either a .cyacd2 image or a
// .mtbdfu script. It owns the channel, the image parser, and any open file
// handles for the duration of one action, mirroring the Programmer type
// this package generalizes: one entry point per action, a shared
// Enter/Exit bracket, and a progress callback fired after each unit of
// work.
package session

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/cydfu/host/dfuerr"
	"github.com/cydfu/host/image/cyacd2"
	"github.com/cydfu/host/image/mtbdfu"
	"github.com/cydfu/host/internal/checksum"
	"github.com/cydfu/host/protocol"
	"github.com/cydfu/host/transport"
)

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dfuerr.Wrap(dfuerr.KindFileNotFound, "reading "+path, err)
	}
	return data, nil
}

// Action selects what a .cyacd2 row does once staged.
type Action int

const (
	ActionProgram Action = iota
	ActionVerify
	ActionErase
)

// ProgressSink receives a monotonically non-decreasing percentage in
// [0, 100]; the controller guarantees a final call with exactly 100.0 only
// when the action returns success.
type ProgressSink func(percent float64)

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithLogger overrides the controller's structured logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Controller) { c.log = log }
}

// WithProgressSink sets the controller's default progress sink.
func WithProgressSink(sink ProgressSink) Option {
	return func(c *Controller) { c.sink = sink }
}

// Controller drives one DFU action at a time against a single channel. It
// is not safe for concurrent actions; Abort is the only method meant to be
// called from a second goroutine while an action is in flight.
type Controller struct {
	log  logrus.FieldLogger
	sink ProgressSink

	abort int32
}

// New returns a Controller ready to run actions.
func New(opts ...Option) *Controller {
	c := &Controller{
		log:  logrus.StandardLogger(),
		sink: func(float64) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Abort flips the cooperative abort flag; callable from any goroutine, and
// idempotent before the next action starts.
func (c *Controller) Abort() {
	atomic.StoreInt32(&c.abort, 1)
}

func (c *Controller) resetAbort() {
	atomic.StoreInt32(&c.abort, 0)
}

func (c *Controller) aborted() bool {
	return atomic.LoadInt32(&c.abort) != 0
}

// Program streams file's rows to the device and commits each with
// ProgramData, then verifies the whole application's checksum.
func (c *Controller) Program(ctx context.Context, imagePath string, ch transport.Channel, sink ProgressSink) error {
	return c.runCyacd2(ctx, imagePath, ch, ActionProgram, sink)
}

// Verify streams file's rows to the device and checks each against flash
// with VerifyData, then verifies the whole application's checksum.
func (c *Controller) Verify(ctx context.Context, imagePath string, ch transport.Channel, sink ProgressSink) error {
	return c.runCyacd2(ctx, imagePath, ch, ActionVerify, sink)
}

// Erase streams file's rows to the device, erasing each row's flash
// address; it does not run the final VerifyChecksum step.
func (c *Controller) Erase(ctx context.Context, imagePath string, ch transport.Channel, sink ProgressSink) error {
	return c.runCyacd2(ctx, imagePath, ch, ActionErase, sink)
}

func effectiveSink(c *Controller, sink ProgressSink) ProgressSink {
	if sink != nil {
		return sink
	}
	return c.sink
}

// runCyacd2 implements the shared Enter -> SetMetadata -> loop ->
// [VerifyChecksum] -> Exit state machine for the three .cyacd2 actions.
func (c *Controller) runCyacd2(ctx context.Context, imagePath string, ch transport.Channel, action Action, sink ProgressSink) (retErr error) {
	c.resetAbort()
	sink = effectiveSink(c, sink)

	parser, err := cyacd2.Open(imagePath)
	if err != nil {
		return err
	}
	defer parser.Close()

	header, err := parser.ReadHeader()
	if err != nil {
		return err
	}

	if err := ch.Open(ctx); err != nil {
		return err
	}

	kind := header.ChecksumKind
	mtu := ch.MaxTransferSize()

	cleanExit := true
	defer func() {
		if cleanExit {
			exitReq, err := protocol.BuildExitBootloader(kind)
			if err == nil {
				transport.Exchange(ctx, ch, kind, exitReq, 0)
			}
		}
		ch.Close()
	}()

	enterReq, err := protocol.BuildEnterBootloader(header.ProductID, kind)
	if err != nil {
		return err
	}
	enterResp, err := transport.Exchange(ctx, ch, kind, enterReq, 8)
	if err != nil {
		cleanExit = !isTransportError(err)
		return err
	}
	parsedEnter, err := protocol.ParseEnterBootloaderResponse(enterResp.Data)
	if err != nil {
		return err
	}
	if parsedEnter.SiliconID != header.SiliconID || parsedEnter.SiliconRev != header.SiliconRev {
		return dfuerr.New(dfuerr.KindDeviceMismatch, "enter-bootloader silicon id/rev mismatch")
	}

	span, err := parser.ScanApplicationSpan()
	if err != nil {
		return err
	}

	// Per the design notes, SetMetadata is sent unconditionally after a
	// successful Enter; an image with no discovered span uses the
	// all-ones/zero-size sentinel the original tool sends.
	appStart, appSize := span.AppStart, span.AppSize
	if span.DataLineCount == 0 {
		appStart, appSize = 0xFFFFFFFF, 0
	}
	metaReq, err := protocol.BuildSetApplicationMetadata(header.AppID, appStart, appSize, kind)
	if err != nil {
		return err
	}
	if _, err := transport.Exchange(ctx, ch, kind, metaReq, 0); err != nil {
		cleanExit = !isTransportError(err)
		return err
	}

	progressTotal := span.DataLineCount
	if progressTotal == 0 {
		progressTotal = 1
	}
	progressDone := 0

rowLoop:
	for {
		if c.aborted() {
			return dfuerr.New(dfuerr.KindAborted, "program/verify/erase")
		}
		row, err := parser.NextRow()
		if err != nil {
			return err
		}
		switch row.Kind {
		case cyacd2.RowEOF:
			break rowLoop
		case cyacd2.RowComment:
			continue
		case cyacd2.RowEIV:
			ivReq, err := protocol.BuildSetEncryptionIV(row.EIV, kind)
			if err != nil {
				return err
			}
			if _, err := transport.Exchange(ctx, ch, kind, ivReq, 0); err != nil {
				cleanExit = !isTransportError(err)
				return err
			}
			continue
		case cyacd2.RowAppInfo:
			continue
		case cyacd2.RowData:
			if err := c.dispatchRow(ctx, ch, kind, mtu, action, row); err != nil {
				cleanExit = !isTransportError(err)
				return err
			}
			progressDone++
			sink(float64(progressDone) / float64(progressTotal) * 100)
		}
	}

	if action == ActionProgram || action == ActionVerify {
		checkReq, err := protocol.BuildVerifyChecksum(header.AppID, kind)
		if err != nil {
			return err
		}
		checkResp, err := transport.Exchange(ctx, ch, kind, checkReq, 1)
		if err != nil {
			cleanExit = !isTransportError(err)
			return err
		}
		ok, err := protocol.ParseVerifyChecksumResponse(checkResp.Data)
		if err != nil {
			return err
		}
		if !ok {
			return dfuerr.New(dfuerr.KindChecksumMismatch, "application checksum verification failed")
		}
	}

	sink(100.0)
	return nil
}

func (c *Controller) dispatchRow(ctx context.Context, ch transport.Channel, kind checksum.Kind, mtu uint32, action Action, row cyacd2.Row) error {
	switch action {
	case ActionErase:
		req, err := protocol.BuildEraseData(row.Address, kind)
		if err != nil {
			return err
		}
		_, err = transport.Exchange(ctx, ch, kind, req, 0)
		return err
	case ActionVerify:
		return transport.SendRow(ctx, ch, kind, mtu, row.Address, row.Data, transport.ActionVerify)
	default:
		return transport.SendRow(ctx, ch, kind, mtu, row.Address, row.Data, transport.ActionProgram)
	}
}

// SendCommand executes a .mtbdfu script against ch, inside the same
// Enter/Exit bracket the .cyacd2 actions use.
func (c *Controller) SendCommand(ctx context.Context, scriptPath string, ch transport.Channel, sink ProgressSink) (retErr error) {
	c.resetAbort()
	sink = effectiveSink(c, sink)

	data, err := readFile(scriptPath)
	if err != nil {
		return err
	}
	doc, err := mtbdfu.Parse(data)
	if err != nil {
		return err
	}

	if err := ch.Open(ctx); err != nil {
		return err
	}
	kind := doc.AppInfo.PacketChecksumType

	cleanExit := true
	defer func() {
		if cleanExit {
			exitReq, err := protocol.BuildExitBootloader(kind)
			if err == nil {
				transport.Exchange(ctx, ch, kind, exitReq, 0)
			}
		}
		ch.Close()
	}()

	enterReq, err := protocol.BuildEnterBootloader(doc.AppInfo.ProductID, kind)
	if err != nil {
		return err
	}
	if _, err := transport.Exchange(ctx, ch, kind, enterReq, 8); err != nil {
		cleanExit = !isTransportError(err)
		return err
	}

	runner := mtbdfu.NewRunner(ch, kind)
	runner.Abort = &c.abort
	runner.Sink = sink
	runner.Log = c.log

	if _, err := runner.Run(ctx, doc); err != nil {
		cleanExit = !isTransportError(err)
		return err
	}
	return nil
}

func isTransportError(err error) bool {
	e, ok := err.(*dfuerr.Error)
	if !ok {
		return false
	}
	switch e.Kind {
	case dfuerr.KindTimeout, dfuerr.KindReadFailed, dfuerr.KindWriteFailed,
		dfuerr.KindDeviceInUse, dfuerr.KindAccessDenied, dfuerr.KindDeviceNotFound,
		dfuerr.KindInternalError, dfuerr.KindUnknownError:
		return true
	}
	return false
}
