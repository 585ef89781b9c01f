package network

import (
	"net"
	"testing"
)

func TestCalculateBroadcast(t *testing.T) {
	tests := []struct {
		name     string
		ip       net.IP
		mask     net.IPMask
		expected string
	}{
		{"Class C network", net.ParseIP("192.168.1.100"), net.IPv4Mask(255, 255, 255, 0), "192.168.1.255"},
		{"Class B network", net.ParseIP("172.16.5.10"), net.IPv4Mask(255, 255, 0, 0), "172.16.255.255"},
		{"Class A network", net.ParseIP("10.0.0.5"), net.IPv4Mask(255, 0, 0, 0), "10.255.255.255"},
		{"/28 subnet", net.ParseIP("192.168.1.20"), net.IPv4Mask(255, 255, 255, 240), "192.168.1.31"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := calculateBroadcast(tt.ip, tt.mask)
			if result == nil {
				t.Fatalf("calculateBroadcast returned nil")
			}
			if result.String() != tt.expected {
				t.Errorf("calculateBroadcast(%s, %v) = %s, want %s",
					tt.ip, tt.mask, result.String(), tt.expected)
			}
		})
	}
}

func TestCalculateBroadcast_Invalid(t *testing.T) {
	if calculateBroadcast(nil, net.IPv4Mask(255, 255, 255, 0)) != nil {
		t.Error("Expected nil for nil IP")
	}
	if calculateBroadcast(net.ParseIP("::1"), net.IPv4Mask(255, 255, 255, 0)) != nil {
		t.Error("Expected nil for IPv6 address")
	}
}

func TestNewSubnet(t *testing.T) {
	s, ok := newSubnet("eth0", &net.IPNet{IP: net.ParseIP("10.0.0.1"), Mask: net.IPv4Mask(255, 255, 255, 0)})
	if !ok {
		t.Fatal("Expected subnet")
	}
	if s.CIDR != "10.0.0.0/24" {
		t.Errorf("Expected CIDR 10.0.0.0/24, got %s", s.CIDR)
	}
	if s.Broadcast != "10.0.0.255" {
		t.Errorf("Expected broadcast 10.0.0.255, got %s", s.Broadcast)
	}
	if s.InterfaceType != "ethernet" {
		t.Errorf("Expected ethernet, got %s", s.InterfaceType)
	}

	if _, ok := newSubnet("tun0", &net.IPNet{IP: net.ParseIP("10.8.0.1"), Mask: net.IPv4Mask(255, 255, 255, 255)}); ok {
		t.Error("Expected point-to-point address to be skipped")
	}
}

func TestCovering(t *testing.T) {
	a, _ := newSubnet("eth0", &net.IPNet{IP: net.ParseIP("10.0.0.1"), Mask: net.IPv4Mask(255, 255, 255, 0)})
	b, _ := newSubnet("wlan0", &net.IPNet{IP: net.ParseIP("192.168.1.4"), Mask: net.IPv4Mask(255, 255, 255, 0)})
	subnets := []Subnet{a, b}

	got, ok := Covering(subnets, "192.168.1.77")
	if !ok || got.Interface != "wlan0" {
		t.Errorf("Expected wlan0, got %+v (%v)", got, ok)
	}
	if _, ok := Covering(subnets, "172.16.0.1"); ok {
		t.Error("Expected no subnet for 172.16.0.1")
	}
	if _, ok := Covering(subnets, "not-an-ip"); ok {
		t.Error("Expected no subnet for garbage")
	}
}

func TestInterfaceType(t *testing.T) {
	tests := map[string]string{
		"eth0":   "ethernet",
		"enp3s0": "ethernet",
		"wlan0":  "wifi",
		"wlp2s0": "wifi",
		"tun0":   "other",
	}
	for name, want := range tests {
		if got := InterfaceType(name); got != want {
			t.Errorf("InterfaceType(%s) = %s, want %s", name, got, want)
		}
	}
}

func TestLocalSubnets(t *testing.T) {
	subnets, err := LocalSubnets()
	if err != nil {
		t.Fatalf("LocalSubnets failed: %v", err)
	}
	for _, s := range subnets {
		if !s.Contains(s.Address) {
			t.Errorf("Subnet %s does not contain its own address %s", s.CIDR, s.Address)
		}
	}
}
