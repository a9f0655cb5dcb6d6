// SPDX-License-Identifier: MIT

package violation

import (
	"os"

	"github.com/google/renameio/v2"
)

func Violate() error {
	if err := os.WriteFile("cache/aa.0", []byte("body"), 0o640); err != nil {
		return err
	}
	if err := os.Rename("cache/aa.0.tmp", "cache/aa.0"); err != nil {
		return err
	}
	return renameio.WriteFile("cache/aa.1", []byte("meta"), 0o640)
}
