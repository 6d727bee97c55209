package model

// SNS 가 HTTP endpoint 로 push 하는 envelope.
// x-amz-sns-message-type 헤더 값에 따라 사용하는 필드가 다르다.
type SNSEnvelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"` // Notification: S3 event JSON 문자열
	SubscribeURL string `json:"SubscribeURL"`
}

// SNS message types
const (
	SNSSubscriptionConfirmation   = "SubscriptionConfirmation"
	SNSUnsubscribeConfirmation    = "UnsubscribeConfirmation"
	SNSNotification               = "Notification"
	ObjectCreatedEventPrefix      = "ObjectCreated:"
	DefaultObjectStorageURLPrefix = "https://s3.amazonaws.com"
)

// S3Event 는 Notification.Message 안의 S3 이벤트 본문.
// 테스트 이벤트(s3:TestEvent)에는 Records 가 없고 Event 만 있다.
type S3Event struct {
	Event   string          `json:"Event,omitempty"`
	Records []S3EventRecord `json:"Records,omitempty"`
}

type S3EventRecord struct {
	EventName string `json:"eventName"`
	EventTime string `json:"eventTime"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
		} `json:"object"`
	} `json:"s3"`
}
