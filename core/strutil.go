package core

import "strconv"

// itoa and utoa keep fmt out of the firmware image; strconv is cheap on TinyGo

func itoa(n int) string {
	return strconv.Itoa(n)
}

func utoa(n uint32) string {
	return strconv.FormatUint(uint64(n), 10)
}
