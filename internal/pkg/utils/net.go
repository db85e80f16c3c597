package utils

import "net"

// GetOutboundIP 获取本机对外通信使用的 IP，用于服务注册。
// UDP dial 不会真正建立连接，只是让内核选一个出口地址。
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}
