package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"telegram-extractor/internal/authflow"
	"telegram-extractor/internal/extract"
)

// extractRequest — тело POST /extract-data. Шаг определяется заполненными
// полями: twoFactorPassword → 2FA, validationCode → погашение кода, иначе
// запрос кода; action=checkSession — только проверка состояния. apiId
// принимается и числом, и строкой: исторически клиенты шлют оба варианта.
type extractRequest struct {
	Action            string          `json:"action,omitempty"`
	PhoneNumber       string          `json:"phoneNumber"`
	APIID             json.RawMessage `json:"apiId,omitempty"`
	APIHash           string          `json:"apiHash,omitempty"`
	ExtractType       string          `json:"extractType,omitempty"`
	ValidationCode    string          `json:"validationCode,omitempty"`
	TwoFactorPassword string          `json:"twoFactorPassword,omitempty"`
}

// logoutRequest — тело POST /auth/logout.
type logoutRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// handleExtractData — мультиплексированный вход: ведёт клиента по шагам
// авторизации и, как только номер авторизован, выполняет выгрузку.
func (s *Server) handleExtractData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req extractRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "Invalid JSON body."})
		return
	}
	ctx := r.Context()
	phone := strings.TrimSpace(req.PhoneNumber)

	switch {
	case req.Action == "checkSession":
		hasSession, err := s.flow.CheckSession(ctx, phone)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, apiResponse{HasSession: &hasSession})

	case req.TwoFactorPassword != "":
		result, err := s.flow.VerifyTwoFactor(ctx, phone, req.TwoFactorPassword)
		if err != nil {
			writeError(w, err)
			return
		}
		s.respondAfterLogin(w, r, phone, req.ExtractType, result)

	case req.ValidationCode != "":
		result, err := s.flow.VerifyCode(ctx, phone, strings.TrimSpace(req.ValidationCode))
		if err != nil {
			writeError(w, err)
			return
		}
		s.respondAfterLogin(w, r, phone, req.ExtractType, result)

	default:
		// Уже авторизованный номер с заявленным видом выгрузки сразу получает
		// данные, без нового кода.
		hasSession, err := s.flow.CheckSession(ctx, phone)
		if err != nil {
			writeError(w, err)
			return
		}
		if hasSession && req.ExtractType != "" {
			s.respondWithData(w, r, phone, req.ExtractType)
			return
		}

		apiID, err := parseAPIID(req.APIID)
		if err != nil {
			writeError(w, &authflow.InputError{Field: "apiId", Reason: "must be a positive integer"})
			return
		}
		sent, err := s.flow.RequestCode(ctx, phone, apiID, strings.TrimSpace(req.APIHash))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, apiResponse{
			Success:            boolp(true),
			RequiresValidation: true,
			PhoneRegistered:    &sent.PhoneRegistered,
			Message:            "Validation code sent to your Telegram app. Please provide it in the next step.",
		})
	}
}

// respondAfterLogin завершает шаг входа: просит облачный пароль, выгружает
// данные заявленного вида либо просто подтверждает вход.
func (s *Server) respondAfterLogin(w http.ResponseWriter, r *http.Request, phone, extractType string, result authflow.Result) {
	if result.Requires2FA {
		writeJSON(w, http.StatusOK, apiResponse{
			Success:     boolp(false),
			Requires2FA: true,
			Message:     "2FA password required to complete sign in.",
		})
		return
	}
	if extractType == "" {
		writeJSON(w, http.StatusOK, apiResponse{
			Success: boolp(true),
			Message: "Authentication successful",
		})
		return
	}
	s.respondWithData(w, r, phone, extractType)
}

// respondWithData выполняет выгрузку и отдаёт записи запрошенного вида.
func (s *Server) respondWithData(w http.ResponseWriter, r *http.Request, phone, extractType string) {
	result, err := s.extractor.Extract(r.Context(), phone, extractType)
	if err != nil {
		writeError(w, err)
		return
	}

	var data any
	switch extractType {
	case extract.KindGroups:
		data = result.Groups
	case extract.KindContacts:
		data = result.Contacts
	}
	writeJSON(w, http.StatusOK, apiResponse{
		Success: boolp(true),
		Message: extractType + " extracted successfully",
		Data:    data,
	})
}

// handleLogout сбрасывает авторизацию номера. Идемпотентен.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req logoutRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "Invalid JSON body."})
		return
	}

	if err := s.flow.Logout(r.Context(), strings.TrimSpace(req.PhoneNumber)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: boolp(true), Message: "Logged out."})
}

// handleFetchData отдаёт ранее выгруженные данные номера из хранилища.
func (s *Server) handleFetchData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if phone == "" {
		writeError(w, &authflow.InputError{Field: "phone", Reason: "query parameter is required"})
		return
	}

	result, err := s.extractor.Stored(r.Context(), phone)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: boolp(true), Data: &result})
}

// handleExportCSV отдаёт сохранённые записи номера CSV-файлом.
// kind=groups (по умолчанию) либо kind=contacts; необязательный ids=1,2
// ограничивает экспорт отмеченными строками.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if phone == "" {
		writeError(w, &authflow.InputError{Field: "phone", Reason: "query parameter is required"})
		return
	}

	result, err := s.extractor.Stored(r.Context(), phone)
	if err != nil {
		writeError(w, err)
		return
	}

	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = extract.KindGroups
	}
	ids, err := parseIDs(r.URL.Query().Get("ids"))
	if err != nil {
		writeError(w, &authflow.InputError{Field: "ids", Reason: "must be a comma-separated list of integers"})
		return
	}

	var (
		payload  []byte
		filename string
	)
	switch kind {
	case extract.KindGroups:
		payload, err = extract.GroupsCSV(extract.FilterGroups(result.Groups, ids))
		filename = "groups.csv"
	case extract.KindContacts:
		payload, err = extract.ContactsCSV(extract.FilterContacts(result.Contacts, ids))
		filename = "contacts.csv"
	default:
		writeError(w, &authflow.InputError{Field: "kind", Reason: "must be groups or contacts"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if _, err := w.Write(payload); err != nil {
		// Клиент оборвал скачивание, делать уже нечего.
		return
	}
}

// handleHealth — проверка живости.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apiResponse{Success: boolp(true), Message: "ok"})
}

// decodeBody читает JSON-тело с ограничением размера. Неизвестные поля
// игнорируются: клиенты шлют в этом теле и служебные поля своего UI.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// parseIDs разбирает ids=1,2 в множество идентификаторов.
// Пустая строка — без фильтра (nil).
func parseIDs(raw string) (map[int64]struct{}, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	ids := make(map[int64]struct{})
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, nil
}

// parseAPIID принимает apiId числом или строкой и требует положительное целое.
func parseAPIID(raw json.RawMessage) (int, error) {
	value := strings.TrimSpace(string(raw))
	value = strings.Trim(value, `"`)
	if value == "" || value == "null" {
		return 0, strconv.ErrSyntax
	}
	id, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return id, nil
}
