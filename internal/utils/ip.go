package utils

import (
	"fmt"
	"net"
)

// GetOutboundIP prefers the outbound IP of this machine
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP.String(), nil
}

// WebURL is the address other devices on the LAN can open the web client at.
func WebURL(port int) string {
	ip, _ := GetOutboundIP()
	return fmt.Sprintf("http://%s:%d", ip, port)
}
