package mtbdfu

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/cydfu/host/dfuerr"
	"github.com/cydfu/host/image/intelhex"
	"github.com/cydfu/host/internal/checksum"
	"github.com/cydfu/host/protocol"
	"github.com/cydfu/host/transport"
)

// AppSpan is the (app_start, app_size) pair the runner may discover via a
// SetApplicationMetadata command built from literal data bytes, mirroring
// the same session-state fields the .cyacd2 path derives from @APPINFO.
type AppSpan struct {
	Start uint32
	Size  uint32
}

// Runner executes a parsed Document against an open channel.
type Runner struct {
	Channel      transport.Channel
	ChecksumKind checksum.Kind
	AppStart     uint32 // seeds the HEX-file address filter; SetMetadata side effects update the runner's span, not this field
	Abort        *int32 // cooperative abort flag, shared with the session controller
	Sink         func(percent float64)
	Log          logrus.FieldLogger

	span      AppSpan
	progDone  int
	progTotal int
}

// NewRunner returns a Runner with a no-op sink and the package logger.
func NewRunner(ch transport.Channel, kind checksum.Kind) *Runner {
	return &Runner{
		Channel:      ch,
		ChecksumKind: kind,
		Sink:         func(float64) {},
		Log:          logrus.StandardLogger(),
	}
}

// Run executes every top-level command in doc, in order (commands, or each
// session's commands back to back), and returns the final discovered
// application span.
func (r *Runner) Run(ctx context.Context, doc *Document) (AppSpan, error) {
	r.span = AppSpan{Start: r.AppStart}

	var all []Command
	if len(doc.Commands) > 0 {
		all = doc.Commands
	} else {
		for _, s := range doc.Sessions {
			all = append(all, s.Commands...)
		}
	}

	r.progTotal = r.estimateTotal(all)
	r.progDone = 0

	for _, cmd := range all {
		if r.aborted() {
			return r.span, dfuerr.New(dfuerr.KindAborted, "mtbdfu session")
		}
		if err := r.runTop(ctx, cmd); err != nil {
			return r.span, err
		}
	}

	r.Sink(100.0)
	return r.span, nil
}

func (r *Runner) aborted() bool {
	return r.Abort != nil && atomic.LoadInt32(r.Abort) != 0
}

// estimateTotal computes the progress denominator up front: one per
// repetition of a fixed-repeat command (matching the progress bumps in
// runTop and runCommandSetGroup), or a row count from a dry pass over a
// bound HEX file for EoF-repeat commands, so the sink's percentages stay
// meaningful without needing a second full pass during execution.
func (r *Runner) estimateTotal(cmds []Command) int {
	total := 0
	for _, c := range cmds {
		if c.Repeat.EoF && c.DataFile != "" {
			n, err := countRows(c.DataFile, rowLength(c), r.span.Start)
			if err != nil {
				total++
				continue
			}
			total += n
			continue
		}
		if c.Repeat.Count > 1 {
			total += c.Repeat.Count
			continue
		}
		total++
	}
	if total == 0 {
		total = 1
	}
	return total
}

func (r *Runner) bumpProgress() {
	r.progDone++
	pct := float64(r.progDone) / float64(r.progTotal) * 100
	if pct > 99.9 {
		pct = 99.9
	}
	r.Sink(pct)
}

func rowLength(c Command) int {
	if c.FlashRowLength > 0 {
		return c.FlashRowLength
	}
	return 512
}

func (r *Runner) runTop(ctx context.Context, cmd Command) error {
	if len(cmd.CommandSet) > 0 {
		return r.runCommandSetGroup(ctx, cmd)
	}

	times := cmd.Repeat.Count
	if times < 1 {
		times = 1
	}
	for i := 0; i < times; i++ {
		if r.aborted() {
			return dfuerr.New(dfuerr.KindAborted, "mtbdfu session")
		}
		if err := r.runSingle(ctx, cmd); err != nil {
			return err
		}
		r.bumpProgress()
	}
	return nil
}

// runCommandSetGroup drives one command's commandSet, replaying it either a
// fixed number of times or once per row pulled from a bound Intel-HEX file
// when Repeat.EoF is set.
func (r *Runner) runCommandSetGroup(ctx context.Context, group Command) error {
	if group.Repeat.EoF {
		if group.DataFile == "" {
			return dfuerr.New(dfuerr.KindConfigError, "commandSet repeat \"EoF\" requires dataFile")
		}
		return accumulateRows(group.DataFile, rowLength(group), r.span.Start, func(address uint32, data []byte) error {
			if r.aborted() {
				return dfuerr.New(dfuerr.KindAborted, "mtbdfu session")
			}
			if err := r.runCommandSetOnce(ctx, group.CommandSet, address, data); err != nil {
				return err
			}
			r.bumpProgress()
			return nil
		})
	}

	times := group.Repeat.Count
	if times < 1 {
		times = 1
	}
	for i := 0; i < times; i++ {
		if r.aborted() {
			return dfuerr.New(dfuerr.KindAborted, "mtbdfu session")
		}
		if err := r.runCommandSetOnce(ctx, group.CommandSet, 0, nil); err != nil {
			return err
		}
		r.bumpProgress()
	}
	return nil
}

// runCommandSetOnce replays one iteration of a commandSet. When rowData is
// non-nil, a SendData-like sub-command chunks it (bounded by that
// sub-command's own repeat count) and a terminating Program/Verify
// sub-command commits rowData in full with its CRC-32C; any other
// sub-command is sent as a literal single command.
func (r *Runner) runCommandSetOnce(ctx context.Context, set []Command, address uint32, rowData []byte) error {
	offset := 0
	for _, sub := range set {
		switch sub.CmdID {
		case protocol.CmdSendData, protocol.CmdSendDataNoResponse:
			if rowData == nil {
				if err := r.runSingle(ctx, sub); err != nil {
					return err
				}
				continue
			}
			maxChunks := sub.Repeat.Count
			if maxChunks < 1 {
				maxChunks = 1
			}
			chunkSize := ceilDiv(len(rowData)-offset, maxChunks)
			if chunkSize < 1 {
				chunkSize = 1
			}
			for offset < len(rowData) {
				n := chunkSize
				if offset+n > len(rowData) {
					n = len(rowData) - offset
				}
				req, err := protocol.BuildSendData(rowData[offset:offset+n], r.ChecksumKind)
				if err != nil {
					return err
				}
				if _, err := transport.Exchange(ctx, r.Channel, r.ChecksumKind, req, 0); err != nil {
					return err
				}
				offset += n
			}

		case protocol.CmdProgramData, protocol.CmdVerifyData:
			if rowData == nil {
				if err := r.runSingle(ctx, sub); err != nil {
					return err
				}
				continue
			}
			crc := checksum.CRC32C(rowData)
			var req []byte
			var err error
			if sub.CmdID == protocol.CmdVerifyData {
				req, err = protocol.BuildVerifyData(address, crc, nil, r.ChecksumKind)
			} else {
				req, err = protocol.BuildProgramData(address, crc, nil, r.ChecksumKind)
			}
			if err != nil {
				return err
			}
			if _, err := transport.Exchange(ctx, r.Channel, r.ChecksumKind, req, 0); err != nil {
				return err
			}

		default:
			if err := r.runSingle(ctx, sub); err != nil {
				return err
			}
		}
	}
	return nil
}

// runSingle sends one literal command, applies the SetMetadata side
// effect, and writes outFile/outCli output.
func (r *Runner) runSingle(ctx context.Context, cmd Command) error {
	req, err := protocol.BuildCustom(cmd.CmdID, cmd.DataBytes, r.ChecksumKind)
	if err != nil {
		return err
	}

	resp, err := transport.ExchangeVariable(ctx, r.Channel, r.ChecksumKind, req)
	if err != nil {
		return err
	}

	if cmd.CmdID == protocol.CmdSetApplicationMetadata && len(cmd.DataBytes) >= 9 {
		r.span.Start = binary.LittleEndian.Uint32(cmd.DataBytes[1:5])
		r.span.Size = binary.LittleEndian.Uint32(cmd.DataBytes[5:9])
	}

	if cmd.OutFile != "" {
		if err := appendHexLine(cmd.OutFile, resp.Data); err != nil {
			return err
		}
	}
	if cmd.OutCli {
		r.Log.Infof("mtbdfu: cmd 0x%02x -> %s", cmd.CmdID, hex.EncodeToString(resp.Data))
	}
	return nil
}

func appendHexLine(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return dfuerr.Wrap(dfuerr.KindFileReadError, "opening mtbdfu outFile", err)
	}
	defer f.Close()
	if _, err := f.WriteString(hex.EncodeToString(data) + "\n"); err != nil {
		return dfuerr.Wrap(dfuerr.KindFileReadError, "writing mtbdfu outFile", err)
	}
	return nil
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

// accumulateRows streams an Intel-HEX file, dropping bytes below appStart,
// and invokes onRow once per full rowLength-byte row plus a final partial
// row at EOF.
func accumulateRows(path string, rowLength int, appStart uint32, onRow func(address uint32, data []byte) error) error {
	rdr, err := intelhex.Open(path)
	if err != nil {
		return err
	}
	defer rdr.Close()

	var rowAddr uint32
	var rowBuf []byte

	flush := func() error {
		if len(rowBuf) == 0 {
			return nil
		}
		data := rowBuf
		rowBuf = nil
		return onRow(rowAddr, data)
	}

	for {
		rec, err := rdr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if rec.Type != intelhex.RecordData {
			continue
		}
		addr := rdr.LinearAddress(rec)
		for _, b := range rec.Data {
			if addr < appStart {
				addr++
				continue
			}
			if len(rowBuf) == 0 {
				rowAddr = addr
			}
			rowBuf = append(rowBuf, b)
			addr++
			if len(rowBuf) == rowLength {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}

// countRows performs a dry run of accumulateRows to size the progress
// denominator without sending any commands.
func countRows(path string, rowLength int, appStart uint32) (int, error) {
	n := 0
	err := accumulateRows(path, rowLength, appStart, func(uint32, []byte) error {
		n++
		return nil
	})
	return n, err
}
