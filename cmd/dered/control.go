package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/dere-run/dered/internal/config"
)

func stopCmd() error {
	pid, err := readPID()
	if err != nil {
		return fmt.Errorf("no daemon running (no pidfile): %w", err)
	}
	if !processAlive(pid) {
		removePIDFile()
		return fmt.Errorf("pidfile present but process %d is not running", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find pid %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	for i := 0; i < 50; i++ {
		if !processAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("pid %d did not exit within 5s of SIGTERM", pid)
}

func statusCmd() error {
	pid, err := readPID()
	if err != nil {
		fmt.Println("dered: not running")
		return nil
	}
	if processAlive(pid) {
		fmt.Printf("dered: running (pid %d)\n", pid)
		return nil
	}
	fmt.Printf("dered: not running (stale pidfile for pid %d)\n", pid)
	return nil
}

func restartCmd(args []string) error {
	if pid, err := readPID(); err == nil && processAlive(pid) {
		if err := stopCmd(); err != nil {
			return err
		}
	}
	return startCmd(args)
}

func configCmd() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	fmt.Printf("addr: %s\n", cfg.Addr)
	fmt.Printf("db_path: %s\n", cfg.DBPath)
	fmt.Printf("work_dir: %s\n", cfg.WorkDir)
	fmt.Printf("sandbox_image: %s\n", cfg.SandboxImage)
	fmt.Printf("agent_command: %s\n", cfg.AgentCommand)
	fmt.Printf("default_model: %s\n", cfg.DefaultModel)
	fmt.Printf("anthropic_model: %s\n", cfg.AnthropicModel)
	fmt.Printf("scheduler_tick: %s\n", cfg.SchedulerTick)
	fmt.Printf("rare_event_cooldown: %s\n", cfg.RareEventCooldown)
	fmt.Printf("rare_event_daily_cap: %d\n", cfg.RareEventDailyCap)
	return nil
}
