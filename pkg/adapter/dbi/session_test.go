package dbi

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	protocol "github.com/nxtools/dbibridge/internal/protocol/dbi"
	"github.com/nxtools/dbibridge/pkg/transport"
)

const testTimeout = 2 * time.Second

// testPeer drives the client side of a session over an in-memory pipe.
type testPeer struct {
	t    *testing.T
	conn net.Conn
}

// startSession wires a session to an in-memory pipe and runs it in the
// background, returning the peer end and a channel with Serve's result.
func startSession(t *testing.T, cfg SessionConfig) (*testPeer, <-chan error) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})

	if cfg.ReceiveTimeout == 0 {
		cfg.ReceiveTimeout = testTimeout
	}

	sess := NewSession(transport.NewConn(serverConn), cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Serve(ctx)
	}()

	return &testPeer{t: t, conn: clientConn}, errCh
}

func (p *testPeer) sendHeader(kind protocol.Kind, cmd protocol.Command, payloadSize uint32) {
	p.t.Helper()
	p.send(protocol.EncodeHeader(kind, cmd, payloadSize))
}

func (p *testPeer) send(buf []byte) {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetWriteDeadline(time.Now().Add(testTimeout)))
	_, err := p.conn.Write(buf)
	require.NoError(p.t, err)
}

func (p *testPeer) readHeader() protocol.Header {
	p.t.Helper()
	h, err := protocol.DecodeHeader(p.read(protocol.HeaderSize))
	require.NoError(p.t, err)
	return h
}

func (p *testPeer) read(n int) []byte {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(testTimeout)))
	buf := make([]byte, n)
	_, err := io.ReadFull(p.conn, buf)
	require.NoError(p.t, err)
	return buf
}

func (p *testPeer) sendAck(cmd protocol.Command) {
	p.t.Helper()
	p.sendHeader(protocol.KindAck, cmd, 0)
}

func (p *testPeer) sendDescriptor(size uint32, offset uint64, nameLen uint32, name string) {
	p.t.Helper()
	buf := make([]byte, 16+len(name))
	binary.LittleEndian.PutUint32(buf[0:], size)
	binary.LittleEndian.PutUint64(buf[4:], offset)
	binary.LittleEndian.PutUint32(buf[12:], nameLen)
	copy(buf[16:], name)
	p.send(buf)
}

func (p *testPeer) expectSessionEnd(errCh <-chan error) {
	p.t.Helper()
	select {
	case err := <-errCh:
		require.NoError(p.t, err)
	case <-time.After(testTimeout):
		p.t.Fatal("session did not terminate")
	}
}

// listTitles runs a full LIST exchange and returns the payload lines.
func (p *testPeer) listTitles() []string {
	p.t.Helper()
	p.sendHeader(protocol.KindRequest, protocol.CmdList, 0)

	resp := p.readHeader()
	assert.Equal(p.t, protocol.KindResponse, resp.Kind)
	assert.Equal(p.t, protocol.CmdList, resp.Command)

	p.sendAck(protocol.CmdList)

	if resp.PayloadSize == 0 {
		return nil
	}
	payload := string(p.read(int(resp.PayloadSize)))
	return strings.Split(strings.TrimSuffix(payload, "\n"), "\n")
}

func writeTitle(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestSessionExit(t *testing.T) {
	peer, errCh := startSession(t, SessionConfig{TitlesRoot: t.TempDir()})

	peer.sendHeader(protocol.KindRequest, protocol.CmdExit, 0)

	resp := peer.readHeader()
	assert.Equal(t, protocol.KindResponse, resp.Kind)
	assert.Equal(t, protocol.CmdExit, resp.Command)
	assert.Equal(t, uint32(0), resp.PayloadSize)

	peer.expectSessionEnd(errCh)
}

func TestSessionBadMagicSilentlyDiscarded(t *testing.T) {
	peer, errCh := startSession(t, SessionConfig{TitlesRoot: t.TempDir()})

	// A full 16-byte frame with the wrong tag produces no response and does
	// not terminate the session.
	bad := bytes.Repeat([]byte{0xAA}, protocol.HeaderSize)
	peer.send(bad)

	// The session is still listening: exit works as usual.
	peer.sendHeader(protocol.KindRequest, protocol.CmdExit, 0)
	resp := peer.readHeader()
	assert.Equal(t, protocol.CmdExit, resp.Command)

	peer.expectSessionEnd(errCh)
}

func TestSessionUnknownCommandTerminates(t *testing.T) {
	for _, cmd := range []protocol.Command{protocol.CmdListDeprecated, protocol.Command(7)} {
		t.Run(cmd.String(), func(t *testing.T) {
			peer, errCh := startSession(t, SessionConfig{TitlesRoot: t.TempDir()})

			peer.sendHeader(protocol.KindRequest, cmd, 0)

			// Unknown ids get an exit response and end the session.
			resp := peer.readHeader()
			assert.Equal(t, protocol.KindResponse, resp.Kind)
			assert.Equal(t, protocol.CmdExit, resp.Command)

			peer.expectSessionEnd(errCh)
		})
	}
}

func TestSessionList(t *testing.T) {
	root := t.TempDir()
	writeTitle(t, root, "alpha.nsp", []byte("a"))
	writeTitle(t, root, "beta.xci", []byte("b"))
	writeTitle(t, root, filepath.Join("sub", "gamma.nsz"), []byte("c"))
	writeTitle(t, root, "ignored.txt", []byte("d"))

	peer, errCh := startSession(t, SessionConfig{TitlesRoot: root})

	names := peer.listTitles()
	assert.ElementsMatch(t, []string{"alpha.nsp", "beta.xci", "gamma.nsz"}, names)

	peer.sendHeader(protocol.KindRequest, protocol.CmdExit, 0)
	peer.readHeader()
	peer.expectSessionEnd(errCh)
}

func TestSessionListRescansEveryTime(t *testing.T) {
	root := t.TempDir()
	writeTitle(t, root, "first.nsp", []byte("1"))

	peer, errCh := startSession(t, SessionConfig{TitlesRoot: root})

	assert.Equal(t, []string{"first.nsp"}, peer.listTitles())

	writeTitle(t, root, "second.nsp", []byte("2"))
	assert.ElementsMatch(t, []string{"first.nsp", "second.nsp"}, peer.listTitles())

	peer.sendHeader(protocol.KindRequest, protocol.CmdExit, 0)
	peer.readHeader()
	peer.expectSessionEnd(errCh)
}

// The end-to-end scenario: an 8-byte title, a request for 4 bytes at offset
// 2, and exactly "CDEF" on the wire.
func TestSessionFileRangeSlice(t *testing.T) {
	root := t.TempDir()
	writeTitle(t, root, "game.nsp", []byte("ABCDEFGH"))

	peer, errCh := startSession(t, SessionConfig{TitlesRoot: root})

	// Populate the cache so the display name resolves to the full path.
	peer.listTitles()

	name := "game.nsp"
	descriptorLen := uint32(16 + len(name))
	peer.sendHeader(protocol.KindRequest, protocol.CmdFileRange, descriptorLen)

	ack := peer.readHeader()
	assert.Equal(t, protocol.KindAck, ack.Kind)
	assert.Equal(t, protocol.CmdFileRange, ack.Command)
	assert.Equal(t, descriptorLen, ack.PayloadSize)

	peer.sendDescriptor(4, 2, uint32(len(name)), name)

	resp := peer.readHeader()
	assert.Equal(t, protocol.KindResponse, resp.Kind)
	assert.Equal(t, protocol.CmdFileRange, resp.Command)
	assert.Equal(t, uint32(4), resp.PayloadSize)

	peer.sendAck(protocol.CmdFileRange)

	assert.Equal(t, "CDEF", string(peer.read(4)))

	peer.sendHeader(protocol.KindRequest, protocol.CmdExit, 0)
	peer.readHeader()
	peer.expectSessionEnd(errCh)
}

// A name the cache has never seen is tried as a direct path.
func TestSessionFileRangeDirectPathFallback(t *testing.T) {
	path := writeTitle(t, t.TempDir(), "loose.nsp", []byte("0123456789"))

	peer, errCh := startSession(t, SessionConfig{TitlesRoot: t.TempDir()})

	descriptorLen := uint32(16 + len(path))
	peer.sendHeader(protocol.KindRequest, protocol.CmdFileRange, descriptorLen)
	peer.readHeader() // ack

	peer.sendDescriptor(5, 0, uint32(len(path)), path)
	peer.readHeader() // response
	peer.sendAck(protocol.CmdFileRange)

	assert.Equal(t, "01234", string(peer.read(5)))

	peer.sendHeader(protocol.KindRequest, protocol.CmdExit, 0)
	peer.readHeader()
	peer.expectSessionEnd(errCh)
}

// The advisory name length in the descriptor must not affect resolution.
func TestSessionFileRangeAdvisoryNameLenMismatch(t *testing.T) {
	root := t.TempDir()
	writeTitle(t, root, "game.nsp", []byte("ABCDEFGH"))

	peer, errCh := startSession(t, SessionConfig{TitlesRoot: root})
	peer.listTitles()

	name := "game.nsp"
	descriptorLen := uint32(16 + len(name))
	peer.sendHeader(protocol.KindRequest, protocol.CmdFileRange, descriptorLen)
	peer.readHeader() // ack

	// Advisory length lies (claims 3), the payload carries the full name.
	peer.sendDescriptor(2, 0, 3, name)
	resp := peer.readHeader()
	assert.Equal(t, uint32(2), resp.PayloadSize)
	peer.sendAck(protocol.CmdFileRange)

	assert.Equal(t, "AB", string(peer.read(2)))

	peer.sendHeader(protocol.KindRequest, protocol.CmdExit, 0)
	peer.readHeader()
	peer.expectSessionEnd(errCh)
}

// Requesting past the end of the file aborts the transfer without killing
// the session: the next command completes normally.
func TestSessionFileRangeBeyondEOFAbortsCommandOnly(t *testing.T) {
	root := t.TempDir()
	writeTitle(t, root, "small.nsp", []byte("ABCDEFGH"))

	peer, errCh := startSession(t, SessionConfig{TitlesRoot: root})
	peer.listTitles()

	name := "small.nsp"
	descriptorLen := uint32(16 + len(name))
	peer.sendHeader(protocol.KindRequest, protocol.CmdFileRange, descriptorLen)
	peer.readHeader() // ack
	peer.sendDescriptor(100, 4, uint32(len(name)), name)
	peer.readHeader() // response announces the requested 100 bytes
	peer.sendAck(protocol.CmdFileRange)

	// The short read aborts before anything is streamed; the session is
	// already back in the listening state and serves the next command.
	assert.ElementsMatch(t, []string{"small.nsp"}, peer.listTitles())

	peer.sendHeader(protocol.KindRequest, protocol.CmdExit, 0)
	peer.readHeader()
	peer.expectSessionEnd(errCh)
}

// A file that cannot be opened aborts the command, not the session.
func TestSessionFileRangeOpenFailure(t *testing.T) {
	peer, errCh := startSession(t, SessionConfig{TitlesRoot: t.TempDir()})

	name := "/nonexistent/title.nsp"
	descriptorLen := uint32(16 + len(name))
	peer.sendHeader(protocol.KindRequest, protocol.CmdFileRange, descriptorLen)
	peer.readHeader() // ack
	peer.sendDescriptor(10, 0, uint32(len(name)), name)
	peer.readHeader() // response
	peer.sendAck(protocol.CmdFileRange)

	// No bytes arrive; the session keeps listening.
	peer.sendHeader(protocol.KindRequest, protocol.CmdExit, 0)
	resp := peer.readHeader()
	assert.Equal(t, protocol.CmdExit, resp.Command)
	peer.expectSessionEnd(errCh)
}

// A descriptor shorter than its fixed prefix is rejected after the ack and
// the command is abandoned.
func TestSessionFileRangeShortDescriptor(t *testing.T) {
	peer, errCh := startSession(t, SessionConfig{TitlesRoot: t.TempDir()})

	peer.sendHeader(protocol.KindRequest, protocol.CmdFileRange, 8)
	ack := peer.readHeader()
	assert.Equal(t, uint32(8), ack.PayloadSize)

	peer.send(make([]byte, 8))

	peer.sendHeader(protocol.KindRequest, protocol.CmdExit, 0)
	resp := peer.readHeader()
	assert.Equal(t, protocol.CmdExit, resp.Command)
	peer.expectSessionEnd(errCh)
}

// Chunked streaming sends exactly the requested byte count, split into
// chunks no larger than the configured chunk size.
func TestSessionFileRangeChunking(t *testing.T) {
	const chunkSize = 4096
	total := chunkSize*2 + 2055 // forces a short final chunk

	content := bytes.Repeat([]byte("0123456789abcdef"), total/16+1)[:total]
	root := t.TempDir()
	writeTitle(t, root, "big.nsp", content)

	peer, errCh := startSession(t, SessionConfig{
		TitlesRoot: root,
		ChunkSize:  chunkSize,
	})
	peer.listTitles()

	name := "big.nsp"
	descriptorLen := uint32(16 + len(name))
	peer.sendHeader(protocol.KindRequest, protocol.CmdFileRange, descriptorLen)
	peer.readHeader() // ack
	peer.sendDescriptor(uint32(total), 0, uint32(len(name)), name)
	resp := peer.readHeader()
	require.Equal(t, uint32(total), resp.PayloadSize)
	peer.sendAck(protocol.CmdFileRange)

	got := peer.read(total)
	assert.Equal(t, content, got)

	peer.sendHeader(protocol.KindRequest, protocol.CmdExit, 0)
	peer.readHeader()
	peer.expectSessionEnd(errCh)
}

func TestSessionPeerDisconnectEndsSession(t *testing.T) {
	peer, errCh := startSession(t, SessionConfig{TitlesRoot: t.TempDir()})

	peer.conn.Close()
	peer.expectSessionEnd(errCh)
}
