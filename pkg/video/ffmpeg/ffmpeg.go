// Package ffmpeg implements [video.Sink] by piping raw RGBA frames into an
// ffmpeg subprocess.
//
// Each sink runs one ffmpeg process reading rawvideo from stdin. The output
// container is chosen from the file extension; unrecognised extensions are
// written as Matroska.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/draw"

	"github.com/MrWong99/camrec/pkg/video"
)

// DefaultBinary is the executable looked up on PATH when no binary is set.
const DefaultBinary = "ffmpeg"

// stderrTail bounds how much ffmpeg diagnostic output is kept for errors.
const stderrTail = 4096

// containers maps lower-case file extensions to ffmpeg muxer names.
var containers = map[string]string{
	".mp4":  "mp4",
	".m4v":  "mp4",
	".mov":  "mov",
	".mkv":  "matroska",
	".webm": "webm",
	".avi":  "avi",
	".flv":  "flv",
	".wmv":  "asf",
	".asf":  "asf",
	".mpg":  "mpeg",
	".mpeg": "mpeg",
	".ts":   "mpegts",
	".ogv":  "ogg",
	".ogg":  "ogg",
}

// Option configures the ffmpeg [video.Opener].
type Option func(*opener)

// WithBinary sets the ffmpeg executable path.
func WithBinary(path string) Option {
	return func(o *opener) {
		if path != "" {
			o.binary = path
		}
	}
}

// WithLogger sets the logger used for process lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(o *opener) {
		if l != nil {
			o.log = l
		}
	}
}

type opener struct {
	binary string
	log    *slog.Logger
}

// NewOpener returns a [video.Opener] that starts one ffmpeg process per sink.
func NewOpener(opts ...Option) video.Opener {
	o := &opener{binary: DefaultBinary, log: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o.open
}

func (o *opener) open(ctx context.Context, p video.Params) (video.Sink, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bin, err := exec.LookPath(o.binary)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: locate binary %q: %w", o.binary, err)
	}

	// The process outlives ctx; it ends when stdin is closed.
	cmd := exec.Command(bin, Args(p)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdin pipe: %w", err)
	}
	tail := &tailBuffer{max: stderrTail}
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start: %w", err)
	}
	o.log.Debug("ffmpeg: process started", "pid", cmd.Process.Pid, "path", p.Path, "codec", p.Codec.String())

	return &Sink{
		params: p,
		cmd:    cmd,
		stdin:  stdin,
		stderr: tail,
		log:    o.log,
		buf:    image.NewRGBA(image.Rect(0, 0, p.Width, p.Height)),
	}, nil
}

// Args returns the ffmpeg command-line arguments for p, excluding the binary.
func Args(p video.Params) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", strconv.Itoa(p.Width) + "x" + strconv.Itoa(p.Height),
		"-r", strconv.Itoa(p.FrameRate),
		"-i", "pipe:0",
		"-an",
	}
	if enc := p.Codec.Encoder(); enc != "" {
		args = append(args, "-c:v", enc)
	}
	args = append(args, "-pix_fmt", p.Codec.PixelFormat())
	if p.Bitrate > 0 && p.Codec != video.CodecRaw {
		args = append(args, "-b:v", strconv.Itoa(p.Bitrate))
	}
	args = append(args, "-f", Container(p.Path), "-y", p.Path)
	return args
}

// Container returns the ffmpeg muxer name for path's extension, falling back
// to Matroska.
func Container(path string) string {
	if c, ok := containers[strings.ToLower(filepath.Ext(path))]; ok {
		return c
	}
	return "matroska"
}

// Sink is an open ffmpeg encoding process.
type Sink struct {
	params video.Params
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
	log    *slog.Logger

	// buf is reused for frames that are not already tightly packed RGBA.
	buf *image.RGBA

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// WriteFrame implements [video.Sink].
func (s *Sink) WriteFrame(img image.Image) error {
	if s.closed {
		return video.ErrSinkClosed
	}
	if err := s.params.CheckSize(img); err != nil {
		return err
	}
	if _, err := s.stdin.Write(packRGBA(img, s.buf)); err != nil {
		return fmt.Errorf("ffmpeg: write frame: %w%s", err, s.stderr.suffix())
	}
	return nil
}

// Close implements [video.Sink]. It closes stdin and waits for ffmpeg to
// finish the container.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		errIn := s.stdin.Close()
		errWait := s.cmd.Wait()
		if errWait != nil {
			errWait = fmt.Errorf("ffmpeg: wait: %w%s", errWait, s.stderr.suffix())
		}
		s.closeErr = errors.Join(errIn, errWait)
		s.log.Debug("ffmpeg: process exited", "path", s.params.Path, "err", s.closeErr)
	})
	return s.closeErr
}

// packRGBA returns img's pixels as tightly packed RGBA rows. Tightly packed
// *image.RGBA values are returned without copying; everything else is drawn
// into scratch.
func packRGBA(img image.Image, scratch *image.RGBA) []byte {
	if rgba, ok := img.(*image.RGBA); ok {
		b := rgba.Rect
		if b.Min == (image.Point{}) && rgba.Stride == b.Dx()*4 {
			return rgba.Pix[:b.Dy()*rgba.Stride]
		}
	}
	draw.Copy(scratch, image.Point{}, img, img.Bounds(), draw.Src, nil)
	return scratch.Pix
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	b   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.b = append(t.b, p...)
	if over := len(t.b) - t.max; over > 0 {
		t.b = append(t.b[:0], t.b[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.b))
}

func (t *tailBuffer) suffix() string {
	if s := t.String(); s != "" {
		return ": " + s
	}
	return ""
}

var _ video.Sink = (*Sink)(nil)
