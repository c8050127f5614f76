package nfsmount

import (
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog"
	nfs "github.com/willscott/go-nfs"
	nfshelper "github.com/willscott/go-nfs/helpers"
)

// Server manages the NFS server lifecycle.
type Server struct {
	listener net.Listener
	port     int
	done     chan struct{}
}

type serverConfig struct {
	addr    string
	handles int
	log     zerolog.Logger
}

type ServerOption func(*serverConfig)

// WithAddr sets the listen address. The default is an ephemeral loopback port.
func WithAddr(addr string) ServerOption { return func(c *serverConfig) { c.addr = addr } }

// WithHandleCache sets how many file handles the server remembers.
func WithHandleCache(n int) ServerOption { return func(c *serverConfig) { c.handles = n } }

func WithServerLogger(l zerolog.Logger) ServerOption { return func(c *serverConfig) { c.log = l } }

// NewServer starts an NFS server backed by fs.
func NewServer(fs billy.Filesystem, opts ...ServerOption) (*Server, error) {
	cfg := serverConfig{addr: "127.0.0.1:0", handles: 4096, log: zerolog.Nop()}
	for _, o := range opts {
		o(&cfg)
	}

	listener, err := net.Listen("tcp", cfg.addr)
	if err != nil {
		return nil, fmt.Errorf("nfs listen: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	handler := nfshelper.NewNullAuthHandler(fs)
	cached := nfshelper.NewCachingHandler(handler, cfg.handles)

	s := &Server{listener: listener, port: port, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		if err := nfs.Serve(listener, cached); err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
			cfg.log.Error().Err(err).Msg("nfs server stopped")
		}
	}()
	cfg.log.Info().Int("port", port).Msg("nfs server listening")
	return s, nil
}

// Port returns the TCP port the NFS server is listening on.
func (s *Server) Port() int {
	return s.port
}

// Close stops the server and waits for the accept loop to end.
func (s *Server) Close() error {
	err := s.listener.Close()
	<-s.done
	return err
}

// mountArgs builds the mount command for the current OS.
func mountArgs(goos string, port int, mountpoint string) ([]string, error) {
	switch goos {
	case "darwin":
		opts := fmt.Sprintf("port=%d,mountport=%d,vers=3,tcp,locallocks,noresvport,nobrowse", port, port)
		return []string{"mount", "-t", "nfs", "-o", opts, "localhost:/", mountpoint}, nil
	case "linux":
		opts := fmt.Sprintf("port=%d,mountport=%d,vers=3,tcp,local_lock=all,nolock,actimeo=1", port, port)
		return []string{"mount", "-t", "nfs", "-o", opts, "localhost:/", mountpoint}, nil
	}
	return nil, fmt.Errorf("unsupported OS: %s", goos)
}

// Mount mounts the server read-write at mountpoint. Requires sudo.
func Mount(port int, mountpoint string) error {
	args, err := mountArgs(runtime.GOOS, port, mountpoint)
	if err != nil {
		return err
	}
	cmd := exec.Command("sudo", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount failed: %w\n%s", err, string(output))
	}
	return nil
}

// Unmount calls the system unmount command on the mountpoint.
func Unmount(mountpoint string) error {
	if runtime.GOOS == "darwin" {
		// no sudo needed for user NFS mounts
		if err := exec.Command("diskutil", "unmount", mountpoint).Run(); err == nil {
			return nil
		}
	}
	output, err := exec.Command("sudo", "umount", mountpoint).CombinedOutput()
	if err != nil {
		return fmt.Errorf("unmount failed: %w\n%s", err, string(output))
	}
	return nil
}
