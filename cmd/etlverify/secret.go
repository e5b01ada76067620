package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"etlverify/internal/security"
)

var secretKey string

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Encrypt or decrypt values for <env>.properties credential files",
}

var secretEncryptCmd = &cobra.Command{
	Use:   "encrypt <value>",
	Short: "Print the AES encrypted, base64 encoded form of value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := propertiesKey()
		if err != nil {
			return err
		}
		out, err := security.EncryptAESECB(key, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var secretDecryptCmd = &cobra.Command{
	Use:   "decrypt <value>",
	Short: "Decrypt a value produced by encrypt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := propertiesKey()
		if err != nil {
			return err
		}
		out, err := security.DecryptAESECB(key, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	secretCmd.PersistentFlags().StringVar(&secretKey, "key", "", "AES key (default: credentials.key from config)")
	secretCmd.AddCommand(secretEncryptCmd, secretDecryptCmd)
}

func propertiesKey() ([]byte, error) {
	key := secretKey
	if key == "" {
		key = cfg.Credentials.Key
	}
	if key == "" {
		return nil, errors.New("no key: pass --key or set credentials.key")
	}
	return []byte(key), nil
}
