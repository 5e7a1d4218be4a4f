package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hirochachacha/go-smb2"
)

const DefaultSMBPort = 445

// SMBConfig holds the credentials used for every share on the remote server.
// An empty Username logs in anonymously.
type SMBConfig struct {
	Username string
	Password string
	Domain   string
	Port     int
}

type smbSession struct {
	conn    net.Conn
	session *smb2.Session
}

// SMB is a backend for UNC paths (\\server\share\dir\file).
// Sessions are opened per server on first use and shares are mounted lazily.
type SMB struct {
	cfg      SMBConfig
	dialer   net.Dialer
	mu       sync.Mutex
	sessions map[string]*smbSession
	shares   map[string]*smb2.Share
}

func NewSMB(cfg SMBConfig) *SMB {
	if cfg.Port == 0 {
		cfg.Port = DefaultSMBPort
	}
	return &SMB{
		cfg:      cfg,
		sessions: make(map[string]*smbSession),
		shares:   make(map[string]*smb2.Share),
	}
}

// IsSMBPath reports whether p is a UNC path.
func IsSMBPath(p string) bool {
	return strings.HasPrefix(p, `\\`)
}

// parseUNC splits \\server\share\rest into its parts. rest uses backslashes and may be empty.
func parseUNC(p string) (server, share, rest string, err error) {
	if !IsSMBPath(p) {
		return "", "", "", fmt.Errorf("%w: %q is not a UNC path", ErrInvalidAddress, p)
	}
	norm := strings.ReplaceAll(p[2:], "/", `\`)
	parts := strings.SplitN(norm, `\`, 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("%w: %q needs a server and a share", ErrInvalidAddress, p)
	}
	server, share = parts[0], parts[1]
	if len(parts) == 3 {
		rest = strings.Trim(parts[2], `\`)
	}
	return server, share, rest, nil
}

func (s *SMB) Name() string {
	return "smb"
}

// share resolves p to a mounted share bound to ctx and the path inside it
func (s *SMB) share(ctx context.Context, p string) (*smb2.Share, string, error) {
	server, shareName, rest, err := parseUNC(p)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unc := fmt.Sprintf(`\\%s\%s`, server, shareName)
	if sh, ok := s.shares[unc]; ok {
		return sh.WithContext(ctx), rest, nil
	}

	sess, err := s.sessionLocked(ctx, server)
	if err != nil {
		return nil, "", err
	}
	sh, err := sess.session.Mount(unc)
	if err != nil {
		return nil, "", fmt.Errorf("mount %s: %w", unc, err)
	}
	s.shares[unc] = sh
	return sh.WithContext(ctx), rest, nil
}

func (s *SMB) sessionLocked(ctx context.Context, server string) (*smbSession, error) {
	if sess, ok := s.sessions[server]; ok {
		return sess, nil
	}

	addr := net.JoinHostPort(server, strconv.Itoa(s.cfg.Port))
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     s.cfg.Username,
			Password: s.cfg.Password,
			Domain:   s.cfg.Domain,
		},
	}
	session, err := d.DialContext(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("session %s: %w", addr, err)
	}

	sess := &smbSession{conn: conn, session: session}
	s.sessions[server] = sess
	return sess, nil
}

func (s *SMB) List(ctx context.Context, dir string) ([]string, error) {
	sh, rest, err := s.share(ctx, dir)
	if err != nil {
		return nil, s.fail("list", dir, err)
	}
	infos, err := sh.ReadDir(rest)
	if err != nil {
		return nil, s.fail("list", dir, err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

func (s *SMB) stat(ctx context.Context, p string) (os.FileInfo, error) {
	sh, rest, err := s.share(ctx, p)
	if err != nil {
		return nil, s.fail("stat", p, err)
	}
	info, err := sh.Stat(rest)
	if err != nil {
		return nil, s.fail("stat", p, err)
	}
	return info, nil
}

func (s *SMB) IsFile(ctx context.Context, p string) (bool, error) {
	info, err := s.stat(ctx, p)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (s *SMB) IsDir(ctx context.Context, p string) (bool, error) {
	info, err := s.stat(ctx, p)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *SMB) ModTime(ctx context.Context, p string) (time.Time, error) {
	info, err := s.stat(ctx, p)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (s *SMB) OpenRead(ctx context.Context, p string) (io.ReadCloser, error) {
	sh, rest, err := s.share(ctx, p)
	if err != nil {
		return nil, s.fail("open", p, err)
	}
	f, err := sh.Open(rest)
	if err != nil {
		return nil, s.fail("open", p, err)
	}
	return f, nil
}

func (s *SMB) OpenWrite(ctx context.Context, p string) (io.WriteCloser, error) {
	sh, rest, err := s.share(ctx, p)
	if err != nil {
		return nil, s.fail("create", p, err)
	}
	f, err := sh.Create(rest)
	if err != nil {
		return nil, s.fail("create", p, err)
	}
	return f, nil
}

func (s *SMB) Remove(ctx context.Context, p string) error {
	sh, rest, err := s.share(ctx, p)
	if err != nil {
		return s.fail("remove", p, err)
	}
	return s.fail("remove", p, sh.Remove(rest))
}

func (s *SMB) Mkdir(ctx context.Context, p string) error {
	sh, rest, err := s.share(ctx, p)
	if err != nil {
		return s.fail("mkdir", p, err)
	}
	return s.fail("mkdir", p, sh.Mkdir(rest, fs.FileMode(dirPerm)))
}

// fail wraps err for op on p. An unreachable server has its session and shares
// dropped so the next call dials again.
func (s *SMB) fail(op, p string, err error) error {
	err = newError(op, p, err)
	if err != nil && KindOf(err) == KindUnreachable {
		if server, _, _, perr := parseUNC(p); perr == nil {
			s.evict(server)
		}
	}
	return err
}

// evict forgets the session to server and every share mounted through it.
// The connection is closed without a logoff, since it is presumed dead.
func (s *SMB) evict(server string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := `\\` + server + `\`
	for unc := range s.shares {
		if strings.HasPrefix(unc, prefix) {
			delete(s.shares, unc)
		}
	}
	if sess, ok := s.sessions[server]; ok {
		sess.conn.Close()
		delete(s.sessions, server)
	}
}

// Close unmounts all shares and logs off every session.
func (s *SMB) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for unc, sh := range s.shares {
		if err := sh.Umount(); err != nil {
			errs = append(errs, fmt.Errorf("umount %s: %w", unc, err))
		}
	}
	for server, sess := range s.sessions {
		if err := sess.session.Logoff(); err != nil {
			errs = append(errs, fmt.Errorf("logoff %s: %w", server, err))
		}
		sess.conn.Close()
	}
	s.shares = make(map[string]*smb2.Share)
	s.sessions = make(map[string]*smbSession)
	return errors.Join(errs...)
}
