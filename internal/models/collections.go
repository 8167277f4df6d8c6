package models

// Collection describes one named local collection: the store key it is
// persisted under and the remote resource path it syncs to.
type Collection struct {
	Name     string `json:"name"`
	Key      string `json:"key"`
	Endpoint string `json:"endpoint"`
}

// Store keys shared with UI collaborators.
const (
	KeySymptoms     = "symptomEntries"
	KeyAppointments = "calendarAppointments"
	KeyDoctors      = "heardUserDoctors"
	KeyReviews      = "doctorReviews"
	KeyForum        = "forumThreads"
	KeyMusic        = "heardCustomMusic"
	KeyQuestions    = "heardCustomQuestions"
	KeyProfile      = "heardProfile"
	KeyQueue        = "queuedRequests"
	KeySession      = "heardUser"
)

// ProfileEndpoint is the remote path of the singleton profile.
const ProfileEndpoint = "/profile"

var (
	Symptoms     = Collection{Name: "symptoms", Key: KeySymptoms, Endpoint: "/symptoms"}
	Appointments = Collection{Name: "appointments", Key: KeyAppointments, Endpoint: "/appointments"}
	Doctors      = Collection{Name: "doctors", Key: KeyDoctors, Endpoint: "/doctors"}
	Reviews      = Collection{Name: "reviews", Key: KeyReviews, Endpoint: "/reviews"}
	Forum        = Collection{Name: "forum", Key: KeyForum, Endpoint: "/forum/threads"}
	Music        = Collection{Name: "music", Key: KeyMusic, Endpoint: "/music"}
	Questions    = Collection{Name: "questions", Key: KeyQuestions, Endpoint: "/questions"}
)

// Collections returns every domain collection in a stable order.
func Collections() []Collection {
	return []Collection{Symptoms, Appointments, Doctors, Reviews, Forum, Music, Questions}
}

// CollectionByName looks a collection up by its short name ("symptoms").
func CollectionByName(name string) (Collection, bool) {
	for _, c := range Collections() {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}

// CollectionByKey looks a collection up by its store key.
func CollectionByKey(key string) (Collection, bool) {
	for _, c := range Collections() {
		if c.Key == key {
			return c, true
		}
	}
	return Collection{}, false
}
