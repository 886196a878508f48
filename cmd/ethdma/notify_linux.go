package main

import (
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/ethdma/ethdev"
)

func notifyReady(l *logrus.Logger, dev *ethdev.Device) {
	sdNotify(l, readyState(dev))
}

func sdNotify(l *logrus.Logger, state string) {
	sockName := os.Getenv("NOTIFY_SOCKET")
	if sockName == "" {
		l.Debugln("NOTIFY_SOCKET systemd env var not set, not sending ready signal")
		return
	}

	conn, err := net.DialTimeout("unixgram", sockName, time.Second)
	if err != nil {
		l.WithError(err).Error("Failed to connect to the systemd notification socket")
		return
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
		l.WithError(err).Error("Failed to set the write deadline for the systemd notification socket")
		return
	}

	if _, err := conn.Write([]byte(state)); err != nil {
		l.WithError(err).WithField("state", state).Error("Failed to signal the systemd notification socket")
		return
	}

	l.WithField("state", state).Debug("Notified systemd")
}
