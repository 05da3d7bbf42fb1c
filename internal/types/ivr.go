package types

// IVRActionType is the terminal action an IVR option leads to
type IVRActionType string

const (
	ActionTransferQueue IVRActionType = "transfer_queue"
	ActionTransferAgent IVRActionType = "transfer_agent"
	ActionVoicemail     IVRActionType = "voicemail"
	ActionCallback      IVRActionType = "callback"
	ActionSubmenu       IVRActionType = "submenu"
	ActionHangup        IVRActionType = "hangup"
	ActionAIIntent      IVRActionType = "ai_intent"
)

// Valid reports whether a is a known action
func (a IVRActionType) Valid() bool {
	switch a {
	case ActionTransferQueue, ActionTransferAgent, ActionVoicemail, ActionCallback,
		ActionSubmenu, ActionHangup, ActionAIIntent:
		return true
	}
	return false
}

// IVROption is one selectable entry of a menu. OptionKey is a key-press
// ("1", "#") or an AI_INTENT_n marker on the conversational path.
type IVROption struct {
	OptionKey    string        `json:"optionKey" yaml:"option_key"`
	ActionType   IVRActionType `json:"actionType" yaml:"action_type"`
	ActionTarget string        `json:"actionTarget,omitempty" yaml:"action_target"`
	Priority     int           `json:"priority,omitempty" yaml:"priority"`
	Intent       string        `json:"intent,omitempty" yaml:"intent"`
	Keywords     []string      `json:"keywords,omitempty" yaml:"keywords"`
}

// IVRFallback is taken once a caller exhausts the menu's retries
type IVRFallback struct {
	ActionType IVRActionType `json:"actionType" yaml:"action_type"`
	Target     string        `json:"target,omitempty" yaml:"target"`
}

// IVRMenu is read-only configuration traversed once per call
type IVRMenu struct {
	ID                   string      `json:"id" yaml:"id"`
	Name                 string      `json:"name,omitempty" yaml:"name"`
	Greeting             string      `json:"greeting" yaml:"greeting"`
	TimeoutSeconds       int         `json:"timeoutSeconds" yaml:"timeout_seconds"`
	MaxRetries           int         `json:"maxRetries" yaml:"max_retries"`
	InvalidOptionMessage string      `json:"invalidOptionMessage,omitempty" yaml:"invalid_option_message"`
	TimeoutMessage       string      `json:"timeoutMessage,omitempty" yaml:"timeout_message"`
	ConversationalAI     bool        `json:"conversationalAi,omitempty" yaml:"conversational_ai"`
	Options              []IVROption `json:"options" yaml:"options"`
	Fallback             IVRFallback `json:"fallback" yaml:"fallback"`
}

// OptionByKey returns the option bound to a key-press
func (m *IVRMenu) OptionByKey(key string) (IVROption, bool) {
	for _, o := range m.Options {
		if o.OptionKey == key {
			return o, true
		}
	}
	return IVROption{}, false
}
