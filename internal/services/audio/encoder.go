package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/jonas747/ogg"

	"github.com/z3i0/MusicBot/internal/domain/valueobjects"
	"github.com/z3i0/MusicBot/internal/services/resolver"
	"github.com/z3i0/MusicBot/pkg/logger"
)

var (
	// ErrEncodingFailed is returned when the encoder pipeline cannot start
	ErrEncodingFailed = errors.New("audio encoding failed")
	// ErrEmptySource is returned for a blank source
	ErrEmptySource = errors.New("empty audio source")
)

// EncodeOptions contains options for encoding
type EncodeOptions struct {
	Volume      int    // 0-100, default 100
	Bitrate     int    // in kbps, default 128
	Application string // audio, voip, or lowdelay
}

// DefaultEncodeOptions returns default encoding options
func DefaultEncodeOptions() EncodeOptions {
	return EncodeOptions{
		Volume:      100,
		Bitrate:     128,
		Application: "audio",
	}
}

// PacketStream yields Opus packets one at a time. ReadPacket returns io.EOF
// at the end of the stream.
type PacketStream interface {
	ReadPacket() ([]byte, error)
	Close() error
}

// Encoder turns a source into Ogg Opus. Local files are read as they are,
// everything else goes through yt-dlp and FFmpeg.
type Encoder struct {
	options EncodeOptions
	ytdlp   string
	ffmpeg  string
	logger  *logger.Logger
}

// NewEncoder creates an encoder using yt-dlp and ffmpeg from PATH
func NewEncoder(options EncodeOptions, log *logger.Logger) *Encoder {
	if options.Bitrate <= 0 {
		options.Bitrate = 128
	}
	if options.Application == "" {
		options.Application = "audio"
	}
	if options.Volume <= 0 || options.Volume > 100 {
		options.Volume = 100
	}
	return &Encoder{
		options: options,
		ytdlp:   "yt-dlp",
		ffmpeg:  "ffmpeg",
		logger:  log,
	}
}

// IsLocal reports whether source is a cached file on disk
func IsLocal(source string) bool {
	if !filepath.IsAbs(source) {
		return false
	}
	info, err := os.Stat(source)
	return err == nil && info.Mode().IsRegular()
}

// Open starts decoding source into Opus packets
func (e *Encoder) Open(ctx context.Context, source string) (PacketStream, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ErrEmptySource
	}

	if IsLocal(source) {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
		}
		return newOggStream(f, f.Close), nil
	}

	p, err := e.start(ctx, source, "pipe:1")
	if err != nil {
		return nil, err
	}
	return newOggStream(p.stdout, p.stop), nil
}

// Download writes source to dest as Ogg Opus
func (e *Encoder) Download(ctx context.Context, source, dest string) error {
	if strings.TrimSpace(source) == "" {
		return ErrEmptySource
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	p, err := e.start(ctx, source, dest)
	if err != nil {
		return err
	}
	if err := p.wait(); err != nil {
		os.Remove(dest)
		return fmt.Errorf("download %s: %w", source, err)
	}
	return nil
}

// ytdlpArgs downloads the best audio to stdout
func (e *Encoder) ytdlpArgs(source string) []string {
	return []string{
		"-f", "bestaudio/best",
		"-o", "-",
		"--no-playlist",
		"--no-check-certificate",
		"--geo-bypass",
		"--quiet",
		"--no-warnings",
		source,
	}
}

// ffmpegArgs encodes input to 48kHz stereo Opus in an Ogg container
func (e *Encoder) ffmpegArgs(input, output string) []string {
	args := []string{"-hide_banner"}
	if input != "pipe:0" {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "2",
		)
	}
	args = append(args,
		"-i", input,
		"-map", "0:a",
		"-acodec", "libopus",
		"-f", "ogg",
		"-compression_level", "5",
		"-ar", "48000",
		"-ac", "2",
		"-b:a", strconv.Itoa(e.options.Bitrate*1000),
		"-application", e.options.Application,
		"-frame_duration", "20",
	)
	if e.options.Volume != 100 {
		args = append(args, "-filter:a", fmt.Sprintf("volume=%.2f", float64(e.options.Volume)/100))
	}
	args = append(args, "-loglevel", "error")
	if output != "pipe:1" {
		args = append(args, "-y")
	}
	return append(args, output)
}

// pipeline is a running ffmpeg process, optionally fed by yt-dlp
type pipeline struct {
	ytdlp  *exec.Cmd
	ffmpeg *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	once   sync.Once
}

// start launches the pipeline. Direct media links are handed to ffmpeg,
// everything else is fetched by yt-dlp first.
func (e *Encoder) start(ctx context.Context, source, output string) (*pipeline, error) {
	p := &pipeline{stderr: &bytes.Buffer{}}

	input := "pipe:0"
	if resolver.DetectPlatform(source) == valueobjects.PlatformDirect {
		input = source
	} else {
		p.ytdlp = exec.CommandContext(ctx, e.ytdlp, e.ytdlpArgs(source)...)
	}
	p.ffmpeg = exec.CommandContext(ctx, e.ffmpeg, e.ffmpegArgs(input, output)...)
	p.ffmpeg.Stderr = p.stderr

	if p.ytdlp != nil {
		ytOut, err := p.ytdlp.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: yt-dlp stdout: %v", ErrEncodingFailed, err)
		}
		ytErr, err := p.ytdlp.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: yt-dlp stderr: %v", ErrEncodingFailed, err)
		}
		go func() {
			scanner := bufio.NewScanner(ytErr)
			for scanner.Scan() {
				e.logger.WithField("yt-dlp", scanner.Text()).Debug("yt-dlp output")
			}
		}()
		p.ffmpeg.Stdin = ytOut
	}

	if output == "pipe:1" {
		out, err := p.ffmpeg.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg stdout: %v", ErrEncodingFailed, err)
		}
		p.stdout = out
	}

	if p.ytdlp != nil {
		if err := p.ytdlp.Start(); err != nil {
			return nil, fmt.Errorf("%w: start yt-dlp: %v", ErrEncodingFailed, err)
		}
	}
	if err := p.ffmpeg.Start(); err != nil {
		p.kill()
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrEncodingFailed, err)
	}

	e.logger.WithField("source", truncate(source, 80)).Debug("Encoder pipeline started")
	return p, nil
}

// wait blocks until ffmpeg exits
func (p *pipeline) wait() error {
	err := p.ffmpeg.Wait()
	if p.ytdlp != nil {
		if ytErr := p.ytdlp.Wait(); err == nil && ytErr != nil {
			err = fmt.Errorf("yt-dlp: %w", ytErr)
		}
	}
	if err != nil && p.stderr.Len() > 0 {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(p.stderr.String()))
	}
	return err
}

func (p *pipeline) kill() {
	for _, cmd := range []*exec.Cmd{p.ytdlp, p.ffmpeg} {
		if cmd != nil && cmd.Process != nil {
			cmd.Process.Kill()
		}
	}
}

// stop kills both processes and reaps them
func (p *pipeline) stop() error {
	p.once.Do(func() {
		p.kill()
		_ = p.wait()
	})
	return nil
}

// oggStream reads Opus packets out of an Ogg container
type oggStream struct {
	decoder *ogg.PacketDecoder
	closer  func() error
}

func newOggStream(r io.Reader, closer func() error) *oggStream {
	return &oggStream{
		decoder: ogg.NewPacketDecoder(ogg.NewDecoder(r)),
		closer:  closer,
	}
}

// ReadPacket skips the OpusHead and OpusTags headers and empty packets
func (s *oggStream) ReadPacket() ([]byte, error) {
	for {
		packet, _, err := s.decoder.Decode()
		if err != nil {
			return nil, err
		}
		if len(packet) == 0 || isOpusHeader(packet) {
			continue
		}
		return packet, nil
	}
}

func (s *oggStream) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func isOpusHeader(packet []byte) bool {
	return bytes.HasPrefix(packet, []byte("OpusHead")) || bytes.HasPrefix(packet, []byte("OpusTags"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
