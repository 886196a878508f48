package main

import (
	"fmt"
	"strings"

	"github.com/slackhq/ethdma/ethdev"
)

// sdNotifyReady tells systemd the service is ready and dependent services can now be started
// https://www.freedesktop.org/software/systemd/man/sd_notify.html
const sdNotifyReady = "READY=1"

// readyState is the sd_notify message sent once dev is up. The STATUS line
// shows up in systemctl status.
func readyState(dev *ethdev.Device) string {
	link := "down"
	if dev.LinkUp() {
		link = "up"
	}
	return strings.Join([]string{
		sdNotifyReady,
		fmt.Sprintf("STATUS=device %s, mtu %d, link %s", dev.HardwareAddr(), dev.MTU(), link),
	}, "\n")
}
