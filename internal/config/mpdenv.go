package config

import (
	"strconv"
	"strings"

	"github.com/go-logr/logr"
)

// MPDEnv is what MPD_HOST and MPD_PORT describe.
type MPDEnv struct {
	Host     string
	Port     int
	Socket   string
	Password string
}

// ParseMPDEnv interprets MPD_HOST and MPD_PORT the way the mpc client does:
//
//	@abstract            abstract socket, no password
//	password@@abstract   abstract socket with password
//	password@host        tcp host (or socket path if it contains '/') with password
//	host                 tcp host (or socket path if it contains '/')
func ParseMPDEnv(lookup func(string) (string, bool), logger logr.Logger) MPDEnv {
	var e MPDEnv
	if v, ok := lookup("MPD_HOST"); ok && v != "" {
		switch {
		case strings.HasPrefix(v, "@"):
			e.Socket = v
		case strings.Contains(v, "@@"):
			pass, addr, _ := strings.Cut(v, "@@")
			e.Password = pass
			e.Socket = "@" + addr
		case strings.Contains(v, "@"):
			pass, addr, _ := strings.Cut(v, "@")
			e.Password = pass
			e.setAddr(addr, logger)
		default:
			e.setAddr(v, logger)
		}
	}

	if p, ok := lookup("MPD_PORT"); ok && p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			logger.Info("Failed to parse MPD_PORT, ignoring", "rawValue", p, "error", err)
		} else {
			e.Port = n
		}
	}
	return e
}

func (e *MPDEnv) setAddr(addr string, logger logr.Logger) {
	if !strings.Contains(addr, "/") {
		e.Host = addr
		return
	}
	e.Socket = addr
	if !strings.HasPrefix(addr, "/") {
		logger.Info("MPD socket assumed to be a relative path", "socket", addr)
	}
}
