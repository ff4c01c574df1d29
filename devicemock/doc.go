// Package devicemock provides a controllable implementation of ev3link.Device
// for testing code that drives a connected device.
//
// Usage:
//
//	dev := devicemock.New("/home/robot")
//	dev.On("MkdirAll", mock.Anything, "/home/robot/prog").Return(nil)
//	proc := devicemock.NewProcess("hello\n", "", nil)
//	dev.On("RunCommand", mock.Anything, mock.Anything).Return(proc, nil)
//	// pass dev to your logic
package devicemock
