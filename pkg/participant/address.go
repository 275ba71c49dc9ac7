package participant

import (
	"net"
	"strconv"
)

// UnresolvedAddr адрес участника, имя хоста которого еще не разрешено.
// Используется как заглушка для статически сконфигурированных участников.
type UnresolvedAddr struct {
	Host string
	Port int
}

func (a UnresolvedAddr) Network() string { return "udp" }

func (a UnresolvedAddr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// NewAddress возвращает *net.UDPAddr для IP литерала или UnresolvedAddr для имени хоста.
// Пустой host или нулевой порт дают nil (адрес неизвестен).
func NewAddress(host string, port int) net.Addr {
	if host == "" || port <= 0 {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return &net.UDPAddr{IP: ip, Port: port}
	}
	return UnresolvedAddr{Host: host, Port: port}
}

// Resolve разрешает UnresolvedAddr через DNS, остальные адреса возвращает как есть
func Resolve(addr net.Addr) (net.Addr, error) {
	u, ok := addr.(UnresolvedAddr)
	if !ok {
		return addr, nil
	}
	resolved, err := net.ResolveUDPAddr("udp", u.String())
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// SameAddr сравнивает адреса по строковому представлению
func SameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}
