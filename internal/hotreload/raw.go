package hotreload

import "os"

func readRaw(path string) ([]byte, error) {
	return os.ReadFile(path)
}
