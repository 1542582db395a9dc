package models

import (
	"net"
	"strconv"
	"time"
)

// Peer is a machine seen on the local network together with the TCP port
// it accepts transfers on.
type Peer struct {
	Address  string    `json:"address"`
	Port     int       `json:"port"`
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
}

func (p Peer) Addr() Addr {
	return Addr{IP: net.ParseIP(p.Address), Port: uint16(p.Port)}
}

func (p Peer) String() string {
	return p.Name + " (" + net.JoinHostPort(p.Address, strconv.Itoa(p.Port)) + ")"
}

// Announcement is the payload of a discovery datagram.
type Announcement struct {
	Port int    `json:"port" mapstructure:"port"`
	Host string `json:"host" mapstructure:"host"`
}
