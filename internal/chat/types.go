package chat

var (
	ErrNicknameTaken            = errorString("nickname_taken")
	ErrRecipientNotFound        = errorString("recipient_not_found")
	ErrEmptyNickname            = errorString("empty_nickname")
	ErrNicknameTooLong          = errorString("nickname_too_long")
	ErrInvalidNicknameCharacter = errorString("invalid_nickname_character")
	ErrMalformedCommand         = errorString("malformed_command")
	ErrUnknownSession           = errorString("unknown_session")
	ErrServerStarted            = errorString("server_already_started")

	// ErrReadTimeout is returned by Transport.ReadLine when the bounded wait
	// expires with no complete line available.
	ErrReadTimeout = errorString("read_timeout")
)

type errorString string

func (e errorString) Error() string { return string(e) }
