// Copyright (C) 2025 Sitka Data (oss@sitkadata.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/SitkaData/sitka/backup"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage timestamped backups of data files",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create [path]",
	Short: "Create a timestamped backup of the file",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupCreate,
}

var backupListCmd = &cobra.Command{
	Use:   "list [path]",
	Short: "List the backups of a file, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupList,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore [path]",
	Short: "Restore the file from its newest backup",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupRestore,
}

var backupCleanCmd = &cobra.Command{
	Use:   "clean [path]",
	Short: "Delete backups older than the given age",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupClean,
}

var backupMaxAge time.Duration // --older-than: age threshold for clean

func init() {
	backupCleanCmd.Flags().DurationVar(&backupMaxAge, "older-than", 7*24*time.Hour,
		"Remove backups older than this (e.g. 720h)")
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupCmd.AddCommand(backupCleanCmd)
	rootCmd.AddCommand(backupCmd)
}

func backupManager() *backup.Manager {
	return backup.NewManager(cfg.Backup, logger)
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	backupPath, err := backupManager().Create(args[0])
	if err != nil {
		return err
	}
	if backupPath == "" {
		fmt.Printf("%s does not exist, nothing to back up\n", args[0])
		return nil
	}
	fmt.Println(backupPath)
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	backups, err := backupManager().List(args[0])
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Printf("no backups for %s\n", args[0])
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tMODIFIED\tSIZE")
	for _, info := range backups {
		fmt.Fprintf(w, "%s\t%s\t%d\n", info.Path, info.ModTime.Format("2006-01-02 15:04:05"), info.Size)
	}
	return w.Flush()
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	mgr := backupManager()
	backupPath, ok := mgr.Latest(args[0])
	if !ok {
		return fmt.Errorf("no backups for %s", args[0])
	}
	if !mgr.Restore(args[0], backupPath) {
		return fmt.Errorf("restore of %s from %s failed", args[0], backupPath)
	}
	fmt.Printf("restored %s from %s\n", args[0], backupPath)
	return nil
}

func runBackupClean(cmd *cobra.Command, args []string) error {
	removed, err := backupManager().CleanOld(args[0], backupMaxAge)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d backups\n", removed)
	return nil
}
