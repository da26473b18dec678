package synthetic

import (
	"bytes"
	"image/jpeg"
	"net"
	"testing"
	"time"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/media"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func waitFrame(t *testing.T, frames <-chan []byte) []byte {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func TestFrameSize(t *testing.T) {
	w, h := frameSize(media.FullScreen)
	assert.Equal(t, 640, w)
	assert.Equal(t, 360, h)

	w, h = frameSize(media.Region{X0: 100, Y0: 100, X1: 420, Y1: 340})
	assert.Equal(t, 320, w)
	assert.Equal(t, 240, h)

	w, h = frameSize(media.Region{X1: 3840, Y1: 2160})
	assert.LessOrEqual(t, w, maxWidth)
	assert.LessOrEqual(t, h, maxHeight)
}

func TestBuildRejectsBadOptions(t *testing.T) {
	e := NewEngine()

	_, err := e.Build(media.RoleCaster, media.BuildOptions{MediaPort: 0})
	require.Error(t, err)
	assert.True(t, errdefs.IsPipeline(err))

	_, err = e.Build(media.RoleCaster, media.BuildOptions{MediaPort: 9001, Region: media.Region{X0: 5, X1: 1, Y1: 1}})
	require.Error(t, err)
	assert.True(t, errdefs.IsPipeline(err))
}

func TestReceiverRejectsCasterOperations(t *testing.T) {
	p, err := NewEngine().Build(media.RoleReceiver, media.BuildOptions{MediaPort: freeUDPPort(t)})
	require.NoError(t, err)
	defer p.Close()

	assert.True(t, errdefs.IsPipeline(p.AddDestination("127.0.0.1", 1)))
	assert.True(t, errdefs.IsPipeline(p.SetRegion(media.FullScreen)))
	assert.True(t, errdefs.IsPipeline(p.SetBlank(true)))
}

func TestCasterToReceiver(t *testing.T) {
	port := freeUDPPort(t)
	e := NewEngine()

	received := make(chan []byte, 16)
	rx, err := e.Build(media.RoleReceiver, media.BuildOptions{
		MediaPort: port,
		OnFrame: func(b []byte) {
			select {
			case received <- b:
			default:
			}
		},
	})
	require.NoError(t, err)
	defer rx.Close()
	require.NoError(t, rx.SetState(media.StatePlaying))

	tx, err := e.Build(media.RoleCaster, media.BuildOptions{MediaPort: port, Framerate: 30})
	require.NoError(t, err)
	defer tx.Close()
	require.NoError(t, tx.AddDestination("127.0.0.1", port))
	require.NoError(t, tx.SetState(media.StatePlaying))

	img, err := jpeg.Decode(bytes.NewReader(waitFrame(t, received)))
	require.NoError(t, err)
	assert.Equal(t, 640, img.Bounds().Dx())
	assert.Equal(t, 360, img.Bounds().Dy())

	require.NoError(t, tx.SetBlank(true))
	require.NoError(t, tx.SetRegion(media.Region{X1: 200, Y1: 100}))

	deadline := time.After(5 * time.Second)
	for {
		var frame []byte
		select {
		case frame = <-received:
		case <-deadline:
			t.Fatal("blank frame never arrived")
		}
		img, err := jpeg.Decode(bytes.NewReader(frame))
		require.NoError(t, err)
		if img.Bounds().Dx() != 200 {
			continue
		}
		r, g, b, _ := img.At(100, 50).RGBA()
		assert.Less(t, r>>8, uint32(16))
		assert.Less(t, g>>8, uint32(16))
		assert.Less(t, b>>8, uint32(16))
		break
	}

	require.NoError(t, tx.Close())
	require.NoError(t, tx.Close())
	assert.Error(t, tx.SetState(media.StatePlaying))
}

func TestPausedCasterEmitsNothing(t *testing.T) {
	previews := make(chan []byte, 64)
	tx, err := NewEngine().Build(media.RoleCaster, media.BuildOptions{
		MediaPort: 9001,
		Framerate: 50,
		OnFrame: func(b []byte) {
			select {
			case previews <- b:
			default:
			}
		},
	})
	require.NoError(t, err)
	defer tx.Close()

	require.NoError(t, tx.SetState(media.StatePlaying))
	waitFrame(t, previews)

	require.NoError(t, tx.SetState(media.StatePaused))
	for len(previews) > 0 {
		<-previews
	}
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, previews)
}

func TestAssemblerDropsIncompleteFrames(t *testing.T) {
	frame := renderPattern(64, 32, 0, false)
	pz := rtp.NewPacketizer(100, payloadType, 1, jpegPayloader{}, rtp.NewFixedSequencer(10), clockRate)
	packets := pz.Packetize(frame, 3000)
	require.Greater(t, len(packets), 2)
	assert.True(t, packets[len(packets)-1].Marker)

	var asm assembler

	// Joining mid-frame yields nothing.
	for _, p := range packets[1:] {
		assert.Nil(t, asm.push(p))
	}

	// A lost fragment drops the frame.
	next := pz.Packetize(frame, 3000)
	for i, p := range next {
		if i == 1 {
			continue
		}
		assert.Nil(t, asm.push(p))
	}

	// A complete frame is reassembled byte for byte.
	var got []byte
	for _, p := range pz.Packetize(frame, 3000) {
		if out := asm.push(p); out != nil {
			got = out
		}
	}
	assert.Equal(t, frame, got)
}
