package chain

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abis/*.json
var bundled embed.FS

var (
	// ERC20ABI covers the Transfer event and the name/symbol/decimals views.
	ERC20ABI = mustBundled("erc20")
	// ERC165ABI covers supportsInterface.
	ERC165ABI = mustBundled("erc165")

	// TransferEvent is Transfer(address indexed from, address indexed to, uint256 value).
	TransferEvent = ERC20ABI.Events["Transfer"]
)

// LoadABIs parses every .json file under root in fsys, keyed by base name without extension.
func LoadABIs(fsys fs.FS, root string) (map[string]*abi.ABI, error) {
	abis := map[string]*abi.ABI{}
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".json") {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("read abi %s: %w", p, err)
		}
		a, err := abi.JSON(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("parse abi %s: %w", p, err)
		}
		abis[strings.TrimSuffix(path.Base(p), path.Ext(p))] = &a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return abis, nil
}

func mustBundled(name string) *abi.ABI {
	abis, err := LoadABIs(bundled, "abis")
	if err != nil {
		panic(err)
	}
	a, ok := abis[name]
	if !ok {
		panic(fmt.Sprintf("bundled abi %s not found", name))
	}
	return a
}
