package engine

import "strconv"

// SplitterArgs renders the splitter command line. Flags and values are
// separate elements; the vector is handed to exec as is.
func SplitterArgs(sourceAddress string, sourcePort, splitterPort int, channelName string, headerSize int, smartSourceClient bool) []string {
	args := []string{
		"--source_addr", sourceAddress,
		"--source_port", strconv.Itoa(sourcePort),
		"--splitter_port", strconv.Itoa(splitterPort),
		"--channel", channelName,
		"--header_size", strconv.Itoa(headerSize),
	}
	if smartSourceClient {
		args = append(args, "--smart_source_client", "1")
	}
	return args
}

// MonitorArgs renders the monitor command line.
func MonitorArgs(splitterAddress string, splitterPort, monitorPort int, smartSourceClient bool) []string {
	args := []string{
		"--splitter_addr", splitterAddress,
		"--splitter_port", strconv.Itoa(splitterPort),
		"--player_port", strconv.Itoa(monitorPort),
	}
	if smartSourceClient {
		args = append(args, "--smart_source_client", "1")
	}
	return args
}
