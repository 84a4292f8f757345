package protocol

// Command actions pushed to a device.
const (
	ActionSendNotice          = "send_notice"
	ActionShowCheckInReminder = "show_checkin_reminder"
	ActionPlayAlarm           = "play_alarm"
	ActionStopAlarm           = "stop_alarm"
	ActionVibrate             = "vibrate"
	ActionSetTorch            = "set_torch"
	ActionCapturePhoto        = "capture_photo"
	ActionStartCall           = "start_call"
)

// Camera facings for capture_photo.
const (
	CameraBack  = "back"
	CameraFront = "front"
)

// CommandMessage asks the device to perform a local side effect.
type CommandMessage struct {
	Type    MessageType `json:"type"`
	Action  string      `json:"action"`
	Title   string      `json:"title,omitempty"`
	Body    string      `json:"body,omitempty"`
	Actions []string    `json:"actions,omitempty"`
	On      *bool       `json:"on,omitempty"`
	Loop    bool        `json:"loop,omitempty"`
	Pattern []int64     `json:"pattern,omitempty"`
	Repeat  int         `json:"repeat,omitempty"`
	Facing  string      `json:"facing,omitempty"`
	Number  string      `json:"number,omitempty"`
}

func newCommand(action string) *CommandMessage {
	return &CommandMessage{Type: MsgTypeCommand, Action: action}
}

// NoticeCommand shows a brief user-facing notice.
func NoticeCommand(body string) *CommandMessage {
	c := newCommand(ActionSendNotice)
	c.Body = body
	return c
}

// CheckInReminderCommand presents the "I'm Safe" confirmation.
func CheckInReminderCommand() *CommandMessage {
	c := newCommand(ActionShowCheckInReminder)
	c.Title = "Safety Check-in Reminder"
	c.Body = "Please confirm that you are safe."
	c.Actions = []string{TriggerConfirmSafe}
	return c
}

func PlayAlarmCommand() *CommandMessage {
	c := newCommand(ActionPlayAlarm)
	c.Loop = true
	return c
}

func StopAlarmCommand() *CommandMessage {
	return newCommand(ActionStopAlarm)
}

// VibrateCommand uses the emergency waveform (off/on millisecond pairs).
func VibrateCommand() *CommandMessage {
	c := newCommand(ActionVibrate)
	c.Pattern = []int64{0, 200, 100, 200, 100, 200}
	c.Repeat = 10
	return c
}

func TorchCommand(on bool) *CommandMessage {
	c := newCommand(ActionSetTorch)
	c.On = &on
	return c
}

func CapturePhotoCommand(facing string) *CommandMessage {
	c := newCommand(ActionCapturePhoto)
	c.Facing = facing
	return c
}

func StartCallCommand(number string) *CommandMessage {
	c := newCommand(ActionStartCall)
	c.Number = number
	return c
}
