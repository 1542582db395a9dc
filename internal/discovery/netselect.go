package discovery

import "net"

// pickInterface returns the named interface, or the first up, non-loopback
// interface carrying an IPv4 address, together with that address.
func pickInterface(name string) (*net.Interface, *net.IPNet) {
	if name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return nil, nil
		}
		return ifi, firstIPv4(ifi)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil
	}
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		if ipnet := firstIPv4(ifi); ipnet != nil {
			return ifi, ipnet
		}
	}
	return nil, nil
}

func firstIPv4(ifi *net.Interface) *net.IPNet {
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if n, ok := a.(*net.IPNet); ok && n.IP.To4() != nil {
			return n
		}
	}
	return nil
}

// broadcastOf returns the directed broadcast address of an IPv4 network.
func broadcastOf(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	out := make(net.IP, net.IPv4len)
	for i := range out {
		out[i] = ip[i] | ^mask[i]
	}
	return out
}

func localAddresses() map[string]struct{} {
	local := make(map[string]struct{})
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return local
	}
	for _, a := range addrs {
		if n, ok := a.(*net.IPNet); ok {
			local[n.IP.String()] = struct{}{}
		}
	}
	return local
}
