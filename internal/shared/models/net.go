package models

import (
	"errors"
	"net"
	"strconv"
)

type Addr struct {
	IP   net.IP
	Port uint16
}

func (a Addr) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(int(a.Port)))
}

var ErrInvalidAddr = errors.New("invalid address")

// ParseAddr parses "host:port" where host must be a literal IP.
func ParseAddr(s string) (Addr, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Addr{}, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Addr{}, ErrInvalidAddr
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return Addr{}, ErrInvalidAddr
	}
	return Addr{IP: ip, Port: uint16(p)}, nil
}
