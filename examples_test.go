package ev3link_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/ev3dev/ev3link"
	"github.com/ev3dev/ev3link/devicemock"
	"github.com/stretchr/testify/mock"
)

func ExampleExecutor_RunBuffered() {
	dev := devicemock.New("/home/robot")

	matcher := mock.MatchedBy(func(c *ev3link.Command) bool {
		return c.Cmd == "uname" && len(c.Args) == 1 && c.Args[0] == "-n"
	})
	dev.On("RunCommand", mock.Anything, matcher).Return(devicemock.NewProcess("ev3dev\n", "", nil), nil)

	exec := ev3link.NewExecutor(dev)

	res, err := exec.RunBuffered(context.Background(), ev3link.NewCommand("uname", "-n"))
	if err != nil {
		panic(err)
	}

	fmt.Printf("%s", res.Stdout)
	// Output: ev3dev
}

func ExampleExecutor_RunBuffered_exitError() {
	dev := devicemock.New("/home/robot")

	failed := &ev3link.ExitError{ExitCode: 2}
	dev.On("RunCommand", mock.Anything, mock.Anything).
		Return(devicemock.NewProcess("", "no such motor\n", failed), nil)

	_, err := ev3link.NewExecutor(dev).RunBuffered(context.Background(), ev3link.NewCommand("./drive.py"))

	var exitErr *ev3link.ExitError
	if errors.As(err, &exitErr) {
		fmt.Printf("exit %d: %s", exitErr.ExitCode, exitErr.Stderr)
	}
	// Output: exit 2: no such motor
}

func ExampleExecutor_SystemInfo() {
	dev := devicemock.New("/home/robot")
	dev.On("RunCommand", mock.Anything, mock.Anything).
		Return(devicemock.NewProcess("Image file: ev3dev-stretch\n", "", nil), nil)

	info, err := ev3link.NewExecutor(dev).SystemInfo(context.Background())
	if err != nil {
		panic(err)
	}

	fmt.Print(info)
	// Output: Image file: ev3dev-stretch
}

func ExampleParseCommand() {
	cmd, err := ev3link.ParseCommand(`brickrun -r -- "./my program.py"`)
	if err != nil {
		panic(err)
	}

	fmt.Println(cmd.Cmd, len(cmd.Args))
	fmt.Println(cmd.String())
	// Output:
	// brickrun 3
	// brickrun -r -- './my program.py'
}

func ExampleEndpoint_HomeDir() {
	fmt.Println(ev3link.Endpoint{User: "robot"}.HomeDir())
	fmt.Println(ev3link.Endpoint{User: "robot", Home: "/srv/robot"}.HomeDir())
	// Output:
	// /home/robot
	// /srv/robot
}

func ExampleWindow_OrDefault() {
	fmt.Println(ev3link.Window{}.OrDefault())
	fmt.Println(ev3link.Window{Rows: 40, Cols: 120}.OrDefault())
	// Output:
	// {24 80}
	// {40 120}
}
