// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sysinfo reports host figures shown in the device status
package sysinfo

import (
	"net"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// UnknownIP is reported when no outbound address can be determined
const UnknownIP = "-"

const bytesPerGiB = 1024 * 1024 * 1024

// DiskSpace returns the free and total bytes of the filesystem holding path
func DiskSpace(path string) (free, total uint64, err error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, 0, err
	}
	return usage.Free, usage.Total, nil
}

// FreeGiB returns the free space at path in GiB rounded to two decimals,
// or 0 when it cannot be determined
func FreeGiB(path string) float64 {
	free, _, err := DiskSpace(path)
	if err != nil {
		return 0
	}
	return Round2(float64(free) / bytesPerGiB)
}

// Round2 rounds to two decimal places
func Round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// CPULoad returns the CPU utilization since the previous call in percent,
// or 0 on failure
func CPULoad() int {
	pct, err := cpu.Percent(0, false)
	if err != nil || len(pct) == 0 {
		return 0
	}
	return int(pct[0])
}

// RAMUsage returns used memory in percent, or 0 on failure
func RAMUsage() int {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return int(vm.UsedPercent)
}

// IPAddress returns the address of the interface used for outbound
// traffic. No packet is sent. Returns UnknownIP on failure.
func IPAddress() string {
	if runtime.GOOS == "windows" {
		return hostAddress()
	}

	conn, err := net.DialTimeout("udp", "8.8.8.8:80", time.Second)
	if err != nil {
		return UnknownIP
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil {
		return UnknownIP
	}
	return addr.IP.String()
}

func hostAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return UnknownIP
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return UnknownIP
}
