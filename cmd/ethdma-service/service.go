package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/ethdma"
	"github.com/slackhq/ethdma/config"
	"github.com/slackhq/ethdma/util"
)

// program runs the driver under a service manager.
type program struct {
	configPath string
	build      string
	sl         service.Logger
	l          *logrus.Logger
	control    *ethdma.Control
}

// Start should not block.
func (p *program) Start(_ service.Service) error {
	p.sl.Info("Ethernet DMA service starting.")

	c := config.NewC(p.l)
	if err := c.Load(p.configPath); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctrl, err := ethdma.Main(c, false, p.build, p.l)
	if err != nil {
		util.LogWithContextIfNeeded("Failed to start", err, p.l)
		return err
	}

	p.control = ctrl
	p.control.Start()
	return nil
}

func (p *program) Stop(_ service.Service) error {
	p.sl.Info("Ethernet DMA service stopping.")
	if p.control == nil {
		return errors.New("service was never started")
	}
	p.control.Stop()
	p.control = nil
	return nil
}

func serviceConfig(configPath string) *service.Config {
	return &service.Config{
		Name:        "ethdma",
		DisplayName: "Ethernet DMA Driver",
		Description: "Ethernet DMA descriptor ring driver over a simulated peripheral",
		Arguments:   []string{"-service", "run", "-config", configPath},
	}
}

func defaultConfigPath() (string, error) {
	ex, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(ex), "config.yaml"), nil
}

func doService(configPath, build, action string) error {
	if configPath == "" {
		var err error
		if configPath, err = defaultConfigPath(); err != nil {
			return fmt.Errorf("failed to locate the default config: %w", err)
		}
	}

	l := logrus.New()
	l.Out = os.Stdout

	prg := &program{
		configPath: configPath,
		build:      build,
		l:          l,
	}

	s, err := service.New(prg, serviceConfig(configPath))
	if err != nil {
		return err
	}

	errs := make(chan error, 5)
	prg.sl, err = s.Logger(errs)
	if err != nil {
		return err
	}

	go func() {
		for err := range errs {
			if err != nil {
				log.Print(err)
			}
		}
	}()

	if action != "run" {
		if err := service.Control(s, action); err != nil {
			return fmt.Errorf("%w, valid actions: %q", err, service.ControlAction)
		}
		return nil
	}

	if !service.Interactive() {
		hookLogger(l, prg.sl)
	}
	return s.Run()
}
