package monitor

import (
	"bytes"
	"fmt"
	"net"
	"strings"
)

// GetLocalIP 获取本机IP地址，优先选择有线/无线网卡上的私有地址
func GetLocalIP() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	// 优先选择的接口名称（按优先级排序）
	preferredInterfaces := []string{"wlan", "wifi", "wireless", "ethernet", "eth", "en"}
	for _, preferred := range preferredInterfaces {
		for _, iface := range interfaces {
			if !strings.Contains(strings.ToLower(iface.Name), preferred) {
				continue
			}
			if ip := privateIPv4(iface); ip != "" {
				return ip, nil
			}
		}
	}

	// 如果没找到优先接口，遍历所有接口
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if ip := privateIPv4(iface); ip != "" {
			return ip, nil
		}
	}
	return "", fmt.Errorf("未找到有效的IP地址")
}

func privateIPv4(iface net.Interface) string {
	addrs, err := iface.Addrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			if isPrivateIP(ipnet.IP.To4()) {
				return ipnet.IP.String()
			}
		}
	}
	return ""
}

// isPrivateIP 检查是否是私有IP地址
func isPrivateIP(ip net.IP) bool {
	ip = ip.To4()
	if ip == nil {
		return false
	}
	privateRanges := []struct {
		start net.IP
		end   net.IP
	}{
		{net.ParseIP("10.0.0.0").To4(), net.ParseIP("10.255.255.255").To4()},
		{net.ParseIP("172.16.0.0").To4(), net.ParseIP("172.31.255.255").To4()},
		{net.ParseIP("192.168.0.0").To4(), net.ParseIP("192.168.255.255").To4()},
	}
	for _, r := range privateRanges {
		if bytes.Compare(ip, r.start) >= 0 && bytes.Compare(ip, r.end) <= 0 {
			return true
		}
	}
	return false
}
